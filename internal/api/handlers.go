package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-callrelay/internal/auth"
	"github.com/npezzotti/go-callrelay/internal/relay"
	"github.com/pion/webrtc/v4"
)

// Roles allowed to read relay diagnostics. Global admins see every tenant,
// tenant admins only their own.
var (
	globalAdminRoles = []string{"super_admin", "superadmin"}
	tenantAdminRoles = []string{"company_admin", "admin"}
)

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type iceServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *RelayApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

// serveWs upgrades first and then authenticates, so that rejected clients
// receive a policy-violation close frame instead of an HTTP error.
func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	token, err := auth.TokenFromQuery(r.URL.Query())
	if err != nil {
		relay.CloseConn(conn, websocket.ClosePolicyViolation, "Authentication required")
		return
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.log.Printf("rejecting socket from %s: %v", r.RemoteAddr, err)
		relay.CloseConn(conn, websocket.ClosePolicyViolation, "Invalid token")
		return
	}

	if _, err := s.relay.Admit(conn, claims); err != nil {
		s.log.Printf("admit %q: %v", claims.UserId, err)
	}
}

func (s *RelayApp) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "OK",
		Timestamp: relay.Now(),
	}

	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			s.log.Printf("health: database ping: %v", err)
			resp.Status = "DEGRADED"
			resp.Database = "unreachable"
			s.writeJson(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *RelayApp) relayStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	switch {
	case slices.Contains(globalAdminRoles, claims.Role):
		s.writeJson(w, http.StatusOK, s.relay.Snapshot(""))
	case slices.Contains(tenantAdminRoles, claims.Role) && claims.TenantId != "":
		s.writeJson(w, http.StatusOK, s.relay.Snapshot(claims.TenantId))
	default:
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
}

func (s *RelayApp) globalAdminOnly(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok || !slices.Contains(globalAdminRoles, claims.Role) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (s *RelayApp) getICEServers(w http.ResponseWriter, _ *http.Request) {
	servers := s.iceServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}

	s.writeJson(w, http.StatusOK, iceServersResponse{ICEServers: servers})
}
