package relay

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// ProtocolVersion is stamped on every server event as "v". Client frames
// without "v" are treated as version 1.
const ProtocolVersion = 1

type MessageType string

// Client frames.
const (
	TypeJoinRoom          MessageType = "join_room"
	TypeLeaveRoom         MessageType = "leave_room"
	TypeWebRTCOffer       MessageType = "webrtc_offer"
	TypeWebRTCOfferToUser MessageType = "webrtc_offer_to_user"
	TypeWebRTCOfferToRoom MessageType = "webrtc_offer_to_room"
	TypeWebRTCAnswer      MessageType = "webrtc_answer"
	TypeICECandidate      MessageType = "ice_candidate"
	TypeCallStarted       MessageType = "call_started"
	TypeCallEnded         MessageType = "call_ended"
	TypeAgentStatus       MessageType = "agent_status"
	TypePing              MessageType = "ping"
)

// Server events.
const (
	TypeConnectionEstablished MessageType = "connection_established"
	TypeRoomJoined            MessageType = "room_joined"
	TypeUserJoined            MessageType = "user_joined"
	TypeUserLeft              MessageType = "user_left"
	TypeOfferSent             MessageType = "offer_sent"
	TypeAnswerSent            MessageType = "answer_sent"
	TypeAgentStatusChanged    MessageType = "agent_status_changed"
	TypePong                  MessageType = "pong"
	TypeError                 MessageType = "error"
)

type ClientMessage struct {
	Type         MessageType     `json:"type"`
	Version      int             `json:"v,omitempty"`
	RoomId       string          `json:"roomId,omitempty"`
	TargetUserId string          `json:"targetUserId,omitempty"`
	CallId       string          `json:"callId,omitempty"`
	CallType     string          `json:"callType,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Status       string          `json:"status,omitempty"`
	Availability json.RawMessage `json:"availability,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

type ServerMessage struct {
	Type         MessageType        `json:"type"`
	Version      int                `json:"v"`
	UserId       string             `json:"userId,omitempty"`
	FromUserId   string             `json:"fromUserId,omitempty"`
	TargetUserId string             `json:"targetUserId,omitempty"`
	RoomId       string             `json:"roomId,omitempty"`
	Users        []string           `json:"users,omitempty"`
	CallId       string             `json:"callId,omitempty"`
	CallType     string             `json:"callType,omitempty"`
	InitiatedBy  string             `json:"initiatedBy,omitempty"`
	EndedBy      string             `json:"endedBy,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Status       string             `json:"status,omitempty"`
	Availability json.RawMessage    `json:"availability,omitempty"`
	Offer        json.RawMessage    `json:"offer,omitempty"`
	Answer       json.RawMessage    `json:"answer,omitempty"`
	Candidate    json.RawMessage    `json:"candidate,omitempty"`
	Role         string             `json:"role,omitempty"`
	TenantId     string             `json:"tenantId,omitempty"`
	SessionId    string             `json:"sessionId,omitempty"`
	ICEServers   []webrtc.ICEServer `json:"iceServers,omitempty"`
	Message      string             `json:"message,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

func newEvent(t MessageType) *ServerMessage {
	return &ServerMessage{
		Type:      t,
		Version:   ProtocolVersion,
		Timestamp: Now(),
	}
}

func ErrorEvent(message string) *ServerMessage {
	msg := newEvent(TypeError)
	msg.Message = message
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// rawText returns a JSON string value unquoted and any other value as its
// JSON text.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}
