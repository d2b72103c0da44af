package rules

import (
	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
)

// NewBondRule watches network bonds: a bond that is not up is a warning.
func NewBondRule() *Rule {
	r := newRule(TypeBond, models.ComponentBonds, models.StateWarning, events.BondUpEvent)
	r.ComponentEvaluators = []ComponentEvaluator{evaluateBondDown}
	return r
}

func evaluateBondDown(c models.Component, _ *models.SystemState) ([]events.Event, error) {
	bond, ok := c.(*models.Bond)
	if !ok {
		return nil, unexpectedKind(c, "bond")
	}
	if bond.Status {
		return nil, nil
	}
	return []events.Event{events.BondDownEvent.New(bond)}, nil
}
