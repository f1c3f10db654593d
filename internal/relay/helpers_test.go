package relay

import (
	"testing"
	"time"

	"github.com/npezzotti/go-callrelay/internal/auth"
	"github.com/npezzotti/go-callrelay/internal/recorder"
	"github.com/npezzotti/go-callrelay/internal/stats"
	"github.com/npezzotti/go-callrelay/internal/testutil"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T, rec recorder.Recorder, opts Options) *Relay {
	t.Helper()

	su := stats.NewStatsUpdater()
	su.Run()
	t.Cleanup(su.Stop)

	return NewRelay(testutil.TestLogger(t), rec, su, opts)
}

// newTestClient returns a client without a socket; its outbound frames
// accumulate on c.send.
func newTestClient(r *Relay, userId, tenantId string) *Client {
	return r.newClient(nil, auth.Claims{UserId: userId, Role: "agent", TenantId: tenantId})
}

func registerTestClient(t *testing.T, r *Relay, userId, tenantId string) *Client {
	t.Helper()

	c := newTestClient(r, userId, tenantId)
	_, err := r.registry.Register(c, ReplaceDuplicate, 0)
	require.NoError(t, err)
	return c
}

func nextMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message to %q", c.info.UserId)
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected %s message to %q: %+v", msg.Type, c.info.UserId, msg)
	default:
	}
}
