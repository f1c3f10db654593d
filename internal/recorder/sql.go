package recorder

import (
	"context"

	"github.com/google/uuid"
	"github.com/npezzotti/go-callrelay/internal/database"
)

// SQLSink appends every event to the relay_events table.
type SQLSink struct {
	repo database.EventRepository
}

func NewSQLSink(repo database.EventRepository) *SQLSink {
	return &SQLSink{repo: repo}
}

func (s *SQLSink) Write(ctx context.Context, ev Event) error {
	return s.repo.CreateEvent(ctx, database.Event{
		Id:           uuid.NewString(),
		Kind:         string(ev.Kind),
		UserId:       ev.UserId,
		Role:         ev.Role,
		TenantId:     ev.TenantId,
		SessionId:    ev.SessionId,
		CallId:       ev.CallId,
		RoomId:       ev.RoomId,
		CallType:     ev.CallType,
		Reason:       ev.Reason,
		Status:       ev.Status,
		Availability: ev.Availability,
		OccurredAt:   ev.At,
	})
}

func (s *SQLSink) Close() error {
	return s.repo.Close()
}
