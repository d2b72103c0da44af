package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownComponent is returned when a SystemState has no attribute of the requested name.
var ErrUnknownComponent = errors.New("unknown component")

// ErrAbsentComponent is returned when a known attribute was never populated.
var ErrAbsentComponent = errors.New("component not populated")

// SystemState is a full observation of the appliance at one cycle.
type SystemState struct {
	CollectedAt           time.Time                 `json:"collected_at"`
	ServiceStartTime      *time.Time                `json:"service_start_time,omitempty"`
	EthernetPorts         *Container[*EthernetPort] `json:"ethernet_ports"`
	FCPorts               *Container[*FCPort]       `json:"fc_ports"`
	Bonds                 *Container[*Bond]         `json:"bonds"`
	Snapshots             *SnapshotContainer        `json:"snapshots"`
	Policies              map[PolicyType]*Policy    `json:"policies"`
	SnapshotSuspendDelete *SnapshotSuspendDelete    `json:"snapshot_suspend_delete"`
}

// NewSystemState returns an empty state collected at the given time.
func NewSystemState(collectedAt time.Time) *SystemState {
	s := &SystemState{CollectedAt: collectedAt}
	s.Normalize()
	return s
}

type cycleStamped interface {
	UpdatedAt() time.Time
	SetUpdatedAt(time.Time)
}

// Normalize allocates absent attributes and restores container kinds after
// decoding. A container decoded without updated_at takes the collection time.
func (s *SystemState) Normalize() {
	if s.EthernetPorts == nil {
		s.EthernetPorts = NewContainer[*EthernetPort](ComponentEthernetPorts, s.CollectedAt)
	}
	s.EthernetPorts.setKind(ComponentEthernetPorts)
	if s.FCPorts == nil {
		s.FCPorts = NewContainer[*FCPort](ComponentFCPorts, s.CollectedAt)
	}
	s.FCPorts.setKind(ComponentFCPorts)
	if s.Bonds == nil {
		s.Bonds = NewContainer[*Bond](ComponentBonds, s.CollectedAt)
	}
	s.Bonds.setKind(ComponentBonds)
	if s.Snapshots == nil || s.Snapshots.Container == nil {
		s.Snapshots = NewSnapshotContainer(s.CollectedAt)
	}
	s.Snapshots.setKind(ComponentSnapshots)
	for _, c := range []cycleStamped{s.EthernetPorts, s.FCPorts, s.Bonds, s.Snapshots} {
		if c.UpdatedAt().IsZero() {
			c.SetUpdatedAt(s.CollectedAt)
		}
	}
	if s.Policies == nil {
		s.Policies = make(map[PolicyType]*Policy)
	}
	if s.SnapshotSuspendDelete == nil {
		s.SnapshotSuspendDelete = &SnapshotSuspendDelete{Base: Base{Name: string(ComponentSnapshotSuspendDelete)}}
	}
}

func (s *SystemState) UnmarshalJSON(data []byte) error {
	type alias SystemState
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SystemState(raw)
	s.Normalize()
	return nil
}

// Lookup returns the attribute named name: either a Component or a ComponentContainer.
func (s *SystemState) Lookup(name ComponentName) (any, error) {
	var attr any
	var present bool
	switch name {
	case ComponentEthernetPorts:
		attr, present = s.EthernetPorts, s.EthernetPorts != nil
	case ComponentFCPorts:
		attr, present = s.FCPorts, s.FCPorts != nil
	case ComponentBonds:
		attr, present = s.Bonds, s.Bonds != nil
	case ComponentSnapshots:
		attr, present = s.Snapshots, s.Snapshots != nil && s.Snapshots.Container != nil
	case ComponentSnapshotSuspendDelete:
		attr, present = s.SnapshotSuspendDelete, s.SnapshotSuspendDelete != nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	if !present {
		return nil, fmt.Errorf("%w: %s", ErrAbsentComponent, name)
	}
	return attr, nil
}

// ComponentNames lists every attribute Lookup resolves.
func ComponentNames() []ComponentName {
	return []ComponentName{
		ComponentEthernetPorts,
		ComponentFCPorts,
		ComponentBonds,
		ComponentSnapshots,
		ComponentSnapshotSuspendDelete,
	}
}

// Policy returns the current configuration of a policy type, or nil.
func (s *SystemState) Policy(t PolicyType) *Policy {
	return s.Policies[t]
}

// DeleteSuspended reports whether snapshot deletion is suspended in this cycle.
func (s *SystemState) DeleteSuspended() bool {
	return s.SnapshotSuspendDelete != nil && s.SnapshotSuspendDelete.Suspended
}

// ComponentStateRecord is the computed state of one component after a cycle.
type ComponentStateRecord struct {
	Component ComponentName  `json:"component"`
	Key       string         `json:"key"`
	State     ComponentState `json:"state"`
	Missing   bool           `json:"is_missing"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ComponentStates flattens the computed states of every component and container.
func (s *SystemState) ComponentStates() []ComponentStateRecord {
	var records []ComponentStateRecord
	for _, name := range ComponentNames() {
		attr, err := s.Lookup(name)
		if err != nil {
			continue
		}
		switch v := attr.(type) {
		case ComponentContainer:
			records = append(records, ComponentStateRecord{
				Component: name, Key: v.Key(), State: v.State(), UpdatedAt: s.CollectedAt,
			})
			for _, m := range v.Members() {
				records = append(records, ComponentStateRecord{
					Component: name, Key: m.Key(), State: m.State(), Missing: m.IsMissing(), UpdatedAt: s.CollectedAt,
				})
			}
		case Component:
			records = append(records, ComponentStateRecord{
				Component: name, Key: v.Key(), State: v.State(), Missing: v.IsMissing(), UpdatedAt: s.CollectedAt,
			})
		}
	}
	return records
}
