package events

import (
	"time"

	"github.com/appliance-health/healthd/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

// Well-known extra payload keys.
const (
	ExtraPreviousSpeed         = "previous_speed"
	ExtraCurrentPolicy         = "current_policy"
	ExtraDelayMinutes          = "delay_minutes"
	ExtraBadSnapshot           = "bad_snapshot"
	ExtraPreviousSnapshot      = "previous_snapshot"
	ExtraTimeDifferenceMinutes = "time_difference_minutes"
)

// Subject is anything an event can be built from: a component or a container.
type Subject interface {
	Key() string
	Kind() models.ComponentName
	Attributes() map[string]any
}

// Event is an immutable description of a detected condition.
// ID and CreatedAt identify an occurrence and take no part in equality.
type Event struct {
	ID         uuid.UUID            `json:"id"`
	Kind       string               `json:"kind"`
	Component  models.ComponentName `json:"component"`
	Key        string               `json:"key"`
	Attributes map[string]any       `json:"attributes,omitempty"`
	Extras     map[string]any       `json:"extras,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

var equalOpts = cmp.Options{
	cmpopts.IgnoreFields(Event{}, "ID", "CreatedAt"),
	cmpopts.EquateEmpty(),
}

// Equal reports whether two events describe the same condition.
func (e Event) Equal(other Event) bool {
	return cmp.Equal(e, other, equalOpts)
}

// Extra is an optional payload field attached at construction.
type Extra struct {
	Key   string
	Value any
}

// With builds an Extra.
func With(key string, value any) Extra {
	return Extra{Key: key, Value: value}
}

// Extra returns a payload field.
func (e Event) Extra(key string) (any, bool) {
	v, ok := e.Extras[key]
	return v, ok
}

// Factory builds events of one kind from a subject.
type Factory interface {
	New(subject Subject, extras ...Extra) Event
	// Name is the bare kind name, used for identity and metrics.
	Name() string
}

// Kind is a factory for a fixed event kind.
type Kind string

func (k Kind) Name() string { return string(k) }

func (k Kind) New(subject Subject, extras ...Extra) Event {
	return newEvent(string(k), subject, extras)
}

func newEvent(kind string, subject Subject, extras []Extra) Event {
	e := Event{
		ID:         uuid.New(),
		Kind:       kind,
		Component:  subject.Kind(),
		Key:        subject.Key(),
		Attributes: subject.Attributes(),
		CreatedAt:  time.Now().UTC(),
	}
	if len(extras) > 0 {
		e.Extras = make(map[string]any, len(extras))
		for _, x := range extras {
			e.Extras[x.Key] = x.Value
		}
	}
	return e
}
