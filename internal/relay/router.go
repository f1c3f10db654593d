package relay

import (
	"encoding/json"
	"fmt"

	"github.com/npezzotti/go-callrelay/internal/recorder"
	"github.com/npezzotti/go-callrelay/internal/stats"
)

type handlerFunc func(c *Client, msg *ClientMessage) error

// Router dispatches client frames through a handler table keyed by type.
type Router struct {
	relay    *Relay
	handlers map[MessageType]handlerFunc
}

func newRouter(r *Relay) *Router {
	rt := &Router{relay: r}
	rt.handlers = map[MessageType]handlerFunc{
		TypeJoinRoom:          rt.joinRoom,
		TypeLeaveRoom:         rt.leaveRoom,
		TypeWebRTCOffer:       rt.offer,
		TypeWebRTCOfferToUser: rt.offerToUser,
		TypeWebRTCOfferToRoom: rt.offerToRoom,
		TypeWebRTCAnswer:      rt.answer,
		TypeICECandidate:      rt.iceCandidate,
		TypeCallStarted:       rt.callStarted,
		TypeCallEnded:         rt.callEnded,
		TypeAgentStatus:       rt.agentStatus,
		TypePing:              rt.ping,
	}
	return rt
}

// Route handles one raw frame from c. Every failure is reported to c as a
// single error event and never affects the connection.
func (rt *Router) Route(c *Client, raw []byte) {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			rt.relay.log.Printf("panic routing frame from %q: %v", c.info.UserId, rec)
			c.queueMessage(ErrorEvent(internalErrorText))
		}
	}()

	if c.tornDown.Load() {
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		rt.relay.log.Printf("error parsing message from %q: %v", c.info.UserId, err)
		c.queueMessage(ErrorEvent(invalidMessageText))
		return
	}

	if msg.Version > ProtocolVersion {
		c.queueMessage(ErrorEvent(fmt.Sprintf("%s: %d", ErrUnsupportedVersion, msg.Version)))
		return
	}

	handle, ok := rt.handlers[msg.Type]
	if !ok {
		c.queueMessage(ErrorEvent(unknownMessageTypeText + string(msg.Type)))
		return
	}

	if err := handle(c, &msg); err != nil {
		rt.relay.log.Printf("%s from %q: %v", msg.Type, c.info.UserId, err)
		c.queueMessage(ErrorEvent(err.Error()))
		return
	}

	rt.relay.stats.Incr(stats.FramesRouted)
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return nil
}

func requiredRaw(name string, value json.RawMessage) error {
	if len(value) == 0 || string(value) == "null" {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return nil
}

func (rt *Router) joinRoom(c *Client, msg *ClientMessage) error {
	if err := required("roomId", msg.RoomId); err != nil {
		return err
	}

	uid := c.info.UserId
	members := rt.relay.rooms.Join(uid, msg.RoomId)

	joined := newEvent(TypeUserJoined)
	joined.UserId = uid
	joined.RoomId = msg.RoomId
	rt.relay.broadcast(members, joined, uid)

	confirm := newEvent(TypeRoomJoined)
	confirm.RoomId = msg.RoomId
	confirm.Users = members
	c.queueMessage(confirm)

	return nil
}

// leaveRoom leaves one room, or every joined room when roomId is empty.
func (rt *Router) leaveRoom(c *Client, msg *ClientMessage) error {
	uid := c.info.UserId

	if msg.RoomId != "" {
		if remaining, left := rt.relay.rooms.Leave(uid, msg.RoomId); left {
			rt.relay.announceLeave(uid, Departure{RoomId: msg.RoomId, Remaining: remaining})
		}
		return nil
	}

	for _, d := range rt.relay.rooms.LeaveAll(uid) {
		rt.relay.announceLeave(uid, d)
	}
	return nil
}

// offer sends to the user when one with that id is connected, otherwise to a
// room with that id if it exists. A room can never shadow a connected user.
func (rt *Router) offer(c *Client, msg *ClientMessage) error {
	if err := required("targetUserId", msg.TargetUserId); err != nil {
		return err
	}
	if err := requiredRaw("offer", msg.Offer); err != nil {
		return err
	}

	if _, online := rt.relay.registry.Lookup(msg.TargetUserId); !online && rt.relay.rooms.Exists(msg.TargetUserId) {
		rt.relay.broadcast(rt.relay.rooms.MembersOf(msg.TargetUserId), rt.offerEvent(c, msg, msg.TargetUserId), c.info.UserId)
	} else {
		rt.relay.sendTo(msg.TargetUserId, rt.offerEvent(c, msg, ""))
	}

	sent := newEvent(TypeOfferSent)
	sent.TargetUserId = msg.TargetUserId
	sent.CallId = msg.CallId
	c.queueMessage(sent)

	return nil
}

func (rt *Router) offerToUser(c *Client, msg *ClientMessage) error {
	if err := required("targetUserId", msg.TargetUserId); err != nil {
		return err
	}
	if err := requiredRaw("offer", msg.Offer); err != nil {
		return err
	}

	rt.relay.sendTo(msg.TargetUserId, rt.offerEvent(c, msg, ""))

	sent := newEvent(TypeOfferSent)
	sent.TargetUserId = msg.TargetUserId
	sent.CallId = msg.CallId
	c.queueMessage(sent)

	return nil
}

func (rt *Router) offerToRoom(c *Client, msg *ClientMessage) error {
	if err := required("roomId", msg.RoomId); err != nil {
		return err
	}
	if err := requiredRaw("offer", msg.Offer); err != nil {
		return err
	}

	rt.relay.broadcast(rt.relay.rooms.MembersOf(msg.RoomId), rt.offerEvent(c, msg, msg.RoomId), c.info.UserId)

	sent := newEvent(TypeOfferSent)
	sent.RoomId = msg.RoomId
	sent.CallId = msg.CallId
	c.queueMessage(sent)

	return nil
}

func (rt *Router) offerEvent(c *Client, msg *ClientMessage, roomId string) *ServerMessage {
	ev := newEvent(TypeWebRTCOffer)
	ev.FromUserId = c.info.UserId
	ev.RoomId = roomId
	ev.Offer = msg.Offer
	ev.CallId = msg.CallId
	return ev
}

func (rt *Router) answer(c *Client, msg *ClientMessage) error {
	if err := required("targetUserId", msg.TargetUserId); err != nil {
		return err
	}
	if err := requiredRaw("answer", msg.Answer); err != nil {
		return err
	}

	ev := newEvent(TypeWebRTCAnswer)
	ev.FromUserId = c.info.UserId
	ev.Answer = msg.Answer
	ev.CallId = msg.CallId
	rt.relay.sendTo(msg.TargetUserId, ev)

	sent := newEvent(TypeAnswerSent)
	sent.TargetUserId = msg.TargetUserId
	sent.CallId = msg.CallId
	c.queueMessage(sent)

	return nil
}

func (rt *Router) iceCandidate(c *Client, msg *ClientMessage) error {
	if err := required("targetUserId", msg.TargetUserId); err != nil {
		return err
	}
	if err := requiredRaw("candidate", msg.Candidate); err != nil {
		return err
	}

	ev := newEvent(TypeICECandidate)
	ev.FromUserId = c.info.UserId
	ev.Candidate = msg.Candidate
	ev.CallId = msg.CallId
	rt.relay.sendTo(msg.TargetUserId, ev)

	return nil
}

func (rt *Router) callStarted(c *Client, msg *ClientMessage) error {
	if err := required("roomId", msg.RoomId); err != nil {
		return err
	}

	ev := newEvent(TypeCallStarted)
	ev.CallId = msg.CallId
	ev.RoomId = msg.RoomId
	ev.InitiatedBy = c.info.UserId
	ev.CallType = msg.CallType
	rt.relay.broadcast(rt.relay.rooms.MembersOf(msg.RoomId), ev, "")

	rt.relay.record(c, recorder.Event{
		Kind:     recorder.CallStarted,
		CallId:   msg.CallId,
		RoomId:   msg.RoomId,
		CallType: msg.CallType,
	})

	return nil
}

func (rt *Router) callEnded(c *Client, msg *ClientMessage) error {
	if err := required("roomId", msg.RoomId); err != nil {
		return err
	}

	ev := newEvent(TypeCallEnded)
	ev.CallId = msg.CallId
	ev.RoomId = msg.RoomId
	ev.EndedBy = c.info.UserId
	ev.Reason = msg.Reason
	rt.relay.broadcast(rt.relay.rooms.MembersOf(msg.RoomId), ev, "")

	rt.relay.record(c, recorder.Event{
		Kind:   recorder.CallEnded,
		CallId: msg.CallId,
		RoomId: msg.RoomId,
		Reason: msg.Reason,
	})

	return nil
}

func (rt *Router) agentStatus(c *Client, msg *ClientMessage) error {
	ev := newEvent(TypeAgentStatusChanged)
	ev.UserId = c.info.UserId
	ev.Status = msg.Status
	ev.Availability = msg.Availability
	rt.relay.broadcast(rt.relay.registry.AllOfTenant(c.info.TenantId), ev, c.info.UserId)

	rt.relay.record(c, recorder.Event{
		Kind:         recorder.AgentStatusChanged,
		Status:       msg.Status,
		Availability: rawText(msg.Availability),
	})

	return nil
}

func (rt *Router) ping(c *Client, _ *ClientMessage) error {
	c.queueMessage(newEvent(TypePong))
	return nil
}
