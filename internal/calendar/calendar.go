// Package calendar creates Google Calendar events for scheduled tasks.
//
// The EventCreator interface is the contract the task service programs
// against; GoogleClient is the production implementation. Credentials are
// handed in per call and never retained.
package calendar

import (
	"context"
	"time"
)

// Credentials carry the caller's OAuth tokens for a single calendar call.
// Expiry is optional; when set it lets the client renew an expired access
// token through the refresh token.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Event describes the calendar event to create for a task.
type Event struct {
	Title           string
	Description     string
	Start           time.Time
	DurationMinutes int
}

// CreatedEvent is the provider's answer: the event id and the
// user-facing link to it.
type CreatedEvent struct {
	ID      string
	HTMLURL string
}

// EventCreator inserts an event into the user's primary calendar.
type EventCreator interface {
	CreateEvent(ctx context.Context, creds Credentials, event Event) (*CreatedEvent, error)
}
