package database

import "time"

type Event struct {
	Id           string
	Kind         string
	UserId       string
	Role         string
	TenantId     string
	SessionId    string
	CallId       string
	RoomId       string
	CallType     string
	Reason       string
	Status       string
	Availability string
	OccurredAt   time.Time
}
