// Package fevent defines the Event value dispatched into the
// interpreter and the validation rules an event type may declare.
package fevent

import "github.com/fluo-sh/fluo/pkg/ferrors"

// Event is a trigger processed by one RTC step. Payload is opaque to
// the core; behaviors interpret it.
type Event struct {
	Type    string
	Payload any
}

// New creates an Event with no payload.
func New(eventType string) Event {
	return Event{Type: eventType}
}

// WithPayload returns a copy of the event carrying the given payload.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// Rule validates one aspect of an event's payload. Name identifies the
// rule in a failing ValidationError's message.
type Rule struct {
	Name     string
	Validate func(payload any) error
}

// ValidateAll runs every rule declared for an event type against its
// payload, short-circuiting and wrapping the first failure.
func ValidateAll(e Event, rules []Rule) error {
	for _, r := range rules {
		if r.Validate == nil {
			continue
		}
		if err := r.Validate(e.Payload); err != nil {
			return ferrors.NewValidationError("event:"+e.Type, r.Name+": "+err.Error())
		}
	}
	return nil
}
