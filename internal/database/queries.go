package database

import (
	"context"
	"fmt"
	"strings"
)

const createEventsTable = `CREATE TABLE IF NOT EXISTS relay_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT '',
	tenant_id TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	call_id TEXT NOT NULL DEFAULT '',
	room_id TEXT NOT NULL DEFAULT '',
	call_type TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	availability TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMP NOT NULL
)`

const createEventsCallIndex = "CREATE INDEX IF NOT EXISTS relay_events_call_id_idx ON relay_events (call_id)"

var eventColumns = []string{
	"id", "kind", "user_id", "role", "tenant_id", "session_id", "call_id",
	"room_id", "call_type", "reason", "status", "availability", "occurred_at",
}

func (db *SQLEventRepository) migrate() error {
	for _, stmt := range []string{createEventsTable, createEventsCallIndex} {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// placeholders renders n bind parameters in the driver's syntax.
func (db *SQLEventRepository) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		if db.driver == DriverPostgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}

	return strings.Join(ph, ", ")
}

func (db *SQLEventRepository) CreateEvent(ctx context.Context, ev Event) error {
	query := "INSERT INTO relay_events (" + strings.Join(eventColumns, ", ") + ") " +
		"VALUES (" + db.placeholders(len(eventColumns)) + ")"

	_, err := db.conn.ExecContext(
		ctx,
		query,
		ev.Id,
		ev.Kind,
		ev.UserId,
		ev.Role,
		ev.TenantId,
		ev.SessionId,
		ev.CallId,
		ev.RoomId,
		ev.CallType,
		ev.Reason,
		ev.Status,
		ev.Availability,
		ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}
