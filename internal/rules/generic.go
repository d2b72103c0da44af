package rules

import "github.com/appliance-health/healthd/internal/models"

// NewGenericRule returns the rule used for components without a dedicated
// one: it resets the state to normal and never emits.
func NewGenericRule(component models.ComponentName) *Rule {
	r := newRule(GenericType(component), component, models.StateNormal, nil)
	r.EmitMissingEvent = false
	return r
}
