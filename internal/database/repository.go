package database

import "context"

type EventRepository interface {
	Ping() error
	CreateEvent(ctx context.Context, ev Event) error
	Close() error
}
