package rules

import (
	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
)

// NewFCPortsRule watches Fibre-Channel ports. Events are emitted in the
// frontend, backend or undefined variant according to the port role.
func NewFCPortsRule() *Rule {
	r := newRule(TypeFCPorts, models.ComponentFCPorts, models.StateWarning, events.FCPortUpEvent)
	r.ComponentEvaluators = []ComponentEvaluator{evaluateFCPortDown}
	r.AfterComponent = fcSpeedChange
	return r
}

// NewEthernetPortsRule watches ethernet ports. "em" interfaces report
// backend events, all others frontend ones.
func NewEthernetPortsRule() *Rule {
	r := newRule(TypeEthernetPorts, models.ComponentEthernetPorts, models.StateWarning, events.EthernetPortUpEvent)
	r.ComponentEvaluators = []ComponentEvaluator{evaluateEthernetPortDown}
	r.AfterComponent = ethernetSpeedChange
	return r
}

func evaluateFCPortDown(c models.Component, _ *models.SystemState) ([]events.Event, error) {
	port, ok := c.(*models.FCPort)
	if !ok {
		return nil, unexpectedKind(c, "fc port")
	}
	if port.IsUp() {
		return nil, nil
	}
	return []events.Event{events.FCPortDownEvent.New(port)}, nil
}

func evaluateEthernetPortDown(c models.Component, _ *models.SystemState) ([]events.Event, error) {
	port, ok := c.(*models.EthernetPort)
	if !ok {
		return nil, unexpectedKind(c, "ethernet port")
	}
	if port.IsUp() {
		return nil, nil
	}
	return []events.Event{events.EthernetPortDownEvent.New(port)}, nil
}

// fcSpeedChange reports a speed change only for a port that stayed up.
func fcSpeedChange(newC, oldC models.Component) ([]events.Event, error) {
	newPort, ok := newC.(*models.FCPort)
	if !ok {
		return nil, unexpectedKind(newC, "fc port")
	}
	oldPort, ok := oldC.(*models.FCPort)
	if !ok {
		return nil, unexpectedKind(oldC, "fc port")
	}
	if !newPort.IsUp() || !oldPort.IsUp() || newPort.ConnectionSpeed == oldPort.ConnectionSpeed {
		return nil, nil
	}
	return []events.Event{
		events.FCPortSpeedChangeEvent.New(newPort, events.With(events.ExtraPreviousSpeed, oldPort.ConnectionSpeed)),
	}, nil
}

func ethernetSpeedChange(newC, oldC models.Component) ([]events.Event, error) {
	newPort, ok := newC.(*models.EthernetPort)
	if !ok {
		return nil, unexpectedKind(newC, "ethernet port")
	}
	oldPort, ok := oldC.(*models.EthernetPort)
	if !ok {
		return nil, unexpectedKind(oldC, "ethernet port")
	}
	if !newPort.IsUp() || !oldPort.IsUp() || newPort.MaximumSpeed == oldPort.MaximumSpeed {
		return nil, nil
	}
	return []events.Event{
		events.EthernetPortSpeedChangeEvent.New(newPort, events.With(events.ExtraPreviousSpeed, oldPort.MaximumSpeed)),
	}, nil
}
