// Package relay implements the signaling relay: identity and room
// registries, the frame router and connection lifecycle.
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-callrelay/internal/auth"
	"github.com/npezzotti/go-callrelay/internal/recorder"
	"github.com/npezzotti/go-callrelay/internal/stats"
	"github.com/pion/webrtc/v4"
)

type Options struct {
	ICEServers      []webrtc.ICEServer
	DuplicatePolicy DuplicatePolicy
	// MaxConnections caps concurrently connected identities; zero is unlimited.
	MaxConnections int
}

type Relay struct {
	log      *log.Logger
	registry *Registry
	rooms    *Rooms
	router   *Router
	recorder recorder.Recorder
	stats    stats.StatsProvider
	opts     Options

	// admitMu orders wg.Add in Admit before the wg.Wait in Shutdown.
	admitMu sync.Mutex
	wg      sync.WaitGroup
	closing atomic.Bool
}

func NewRelay(logger *log.Logger, rec recorder.Recorder, sp stats.StatsProvider, opts Options) *Relay {
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = ReplaceDuplicate
	}
	if rec == nil {
		rec = recorder.Nop{}
	}

	r := &Relay{
		log:      logger,
		registry: NewRegistry(),
		rooms:    NewRooms(),
		recorder: rec,
		stats:    sp,
		opts:     opts,
	}
	r.router = newRouter(r)

	sp.RegisterGauge(stats.ActiveConnections, func() any { return r.registry.Len() })
	sp.RegisterGauge(stats.ActiveRooms, func() any { return r.rooms.Len() })
	sp.RegisterMetric(stats.FramesRouted)
	sp.RegisterMetric(stats.FramesDropped)
	sp.RegisterMetric(stats.AdmissionsRejected)

	return r
}

func (r *Relay) newClient(conn *websocket.Conn, claims auth.Claims) *Client {
	return &Client{
		conn:  conn,
		relay: r,
		log:   r.log,
		info: ConnectionInfo{
			UserId:      claims.UserId,
			Role:        claims.Role,
			TenantId:    claims.TenantId,
			SessionId:   uuid.NewString(),
			ConnectedAt: Now(),
		},
		send:     make(chan *ServerMessage, sendBufferSize),
		stop:     make(chan struct{}),
		released: make(chan struct{}),
	}
}

// Admit registers an authenticated socket and starts serving it. When an
// error is returned the socket has already been closed.
func (r *Relay) Admit(conn *websocket.Conn, claims auth.Claims) (*Client, error) {
	if r.closing.Load() {
		CloseConn(conn, websocket.CloseGoingAway, "server shutting down")
		return nil, ErrShuttingDown
	}

	c := r.newClient(conn, claims)
	prev, err := r.registry.Register(c, r.opts.DuplicatePolicy, r.opts.MaxConnections)
	if err != nil {
		r.stats.Incr(stats.AdmissionsRejected)
		code := websocket.ClosePolicyViolation
		if errors.Is(err, ErrTooManyConnections) {
			code = websocket.CloseTryAgainLater
		}
		r.log.Printf("rejecting connection for %q: %v", claims.UserId, err)
		CloseConn(conn, code, err.Error())
		return nil, err
	}

	if prev != nil {
		r.log.Printf("replacing connection for %q", claims.UserId)
		prev.closeWith(CloseReplaced, "replaced by new connection")
		r.teardown(prev, "replaced")
		<-prev.released
	}

	r.admitMu.Lock()
	if r.closing.Load() {
		r.admitMu.Unlock()
		r.teardown(c, "shutdown")
		CloseConn(conn, websocket.CloseGoingAway, "server shutting down")
		return nil, ErrShuttingDown
	}
	r.wg.Add(2)
	r.admitMu.Unlock()

	r.record(c, recorder.Event{Kind: recorder.ConnectionOpened})
	r.log.Printf("%q connected (role=%q tenant=%q session=%s)", c.info.UserId, c.info.Role, c.info.TenantId, c.info.SessionId)

	established := newEvent(TypeConnectionEstablished)
	established.UserId = c.info.UserId
	established.Role = c.info.Role
	established.TenantId = c.info.TenantId
	established.SessionId = c.info.SessionId
	established.ICEServers = r.opts.ICEServers
	c.queueMessage(established)

	go c.writePump()
	go c.readPump()

	return c, nil
}

// Teardown releases everything held by c. It is safe to call any number of
// times from any goroutine.
func (r *Relay) Teardown(c *Client) {
	r.teardown(c, "closed")
}

func (r *Relay) teardown(c *Client, reason string) {
	if !c.tornDown.CompareAndSwap(false, true) {
		return
	}
	defer close(c.released)

	c.closeWith(websocket.CloseNormalClosure, "")

	// Waits out a frame still being routed for c. The identity stays
	// registered until its rooms are released, so a new login for it is
	// handled as a replacement and waits on c.released.
	c.routeMu.Lock()
	uid := c.info.UserId
	for _, d := range r.rooms.LeaveAll(uid) {
		r.announceLeave(uid, d)
	}
	r.registry.Remove(c)
	c.routeMu.Unlock()

	r.record(c, recorder.Event{Kind: recorder.ConnectionClosed, Reason: reason})
	r.log.Printf("%q disconnected (%s)", uid, reason)
}

// Shutdown closes every connection with going-away and waits for their
// goroutines to exit or ctx to end. New admissions are refused.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.log.Println("shutting down relay")
	r.admitMu.Lock()
	r.closing.Store(true)
	r.admitMu.Unlock()

	for _, c := range r.registry.all() {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) sendTo(userId string, msg *ServerMessage) bool {
	c, ok := r.registry.Lookup(userId)
	if !ok {
		return false
	}
	return c.queueMessage(msg)
}

// broadcast sends msg to every id except exclude. Missing recipients are
// skipped.
func (r *Relay) broadcast(ids []string, msg *ServerMessage, exclude string) {
	for _, id := range ids {
		if id == exclude {
			continue
		}
		r.sendTo(id, msg)
	}
}

func (r *Relay) announceLeave(userId string, d Departure) {
	if len(d.Remaining) == 0 {
		return
	}

	ev := newEvent(TypeUserLeft)
	ev.UserId = userId
	ev.RoomId = d.RoomId
	r.broadcast(d.Remaining, ev, userId)
}

func (r *Relay) record(c *Client, ev recorder.Event) {
	ev.UserId = c.info.UserId
	ev.Role = c.info.Role
	ev.TenantId = c.info.TenantId
	ev.SessionId = c.info.SessionId
	r.recorder.Record(ev)
}
