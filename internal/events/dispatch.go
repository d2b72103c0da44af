package events

import (
	"fmt"

	"github.com/appliance-health/healthd/internal/models"
)

// FamilyResolver is implemented by subjects whose events come in
// frontend/backend variants.
type FamilyResolver interface {
	PortFamily() models.PortFamily
}

// RoleEvent is a factory for an event whose concrete kind depends on the
// family of the port it is built from. Its identity is the bare kind name
// alone, so two RoleEvents for the same name are equal and hash alike.
type RoleEvent string

// familyKinds maps a bare kind to its concrete kind per family.
var familyKinds = map[RoleEvent]map[models.PortFamily]string{}

func init() {
	for _, bare := range []RoleEvent{FCPortDownEvent, FCPortUpEvent, FCPortSpeedChangeEvent} {
		register(bare, models.FamilyFrontend, models.FamilyBackend, models.FamilyUndefined)
	}
	for _, bare := range []RoleEvent{EthernetPortDownEvent, EthernetPortUpEvent, EthernetPortSpeedChangeEvent} {
		register(bare, models.FamilyFrontend, models.FamilyBackend)
	}
}

func register(bare RoleEvent, families ...models.PortFamily) {
	kinds := make(map[models.PortFamily]string, len(families))
	for _, f := range families {
		kinds[f] = f.String() + string(bare)
	}
	familyKinds[bare] = kinds
}

func (r RoleEvent) Name() string { return string(r) }

// Resolve returns the concrete kind name for a family.
func (r RoleEvent) Resolve(family models.PortFamily) (string, error) {
	kinds, ok := familyKinds[r]
	if !ok {
		return "", fmt.Errorf("no event family registered for %s", r)
	}
	kind, ok := kinds[family]
	if !ok {
		return "", fmt.Errorf("%s has no %s variant", r, family)
	}
	return kind, nil
}

// New builds the concrete event for the subject's family. Subjects that do
// not resolve a family get the undefined variant. Panics if the bare kind has
// no variant for the family: the table above is static.
func (r RoleEvent) New(subject Subject, extras ...Extra) Event {
	family := models.FamilyUndefined
	if fr, ok := subject.(FamilyResolver); ok {
		family = fr.PortFamily()
	}
	kind, err := r.Resolve(family)
	if err != nil {
		panic(err)
	}
	return newEvent(kind, subject, extras)
}
