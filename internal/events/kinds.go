package events

import "strings"

// Plain event kinds.
const (
	ComponentNotFoundEvent Kind = "ComponentNotFoundEvent"

	BondDownEvent Kind = "BondDownEvent"
	BondUpEvent   Kind = "BondUpEvent"

	SnapshotsOKEvent               Kind = "SnapshotsOKEvent"
	SnapshotBadExpirationEvent     Kind = "SnapshotBadExpirationEvent"
	SnapshotBadCreationEvent       Kind = "SnapshotBadCreationEvent"
	SnapshotNotDeletedEvent        Kind = "SnapshotNotDeletedEvent"
	SnapshotOverdueEvent           Kind = "SnapshotOverdueEvent"
	SnapshotWrongFrequencyEvent    Kind = "SnapshotWrongFrequencyEvent"
	SnapshotBadLockExpirationEvent Kind = "SnapshotBadLockExpirationEvent"
	SnapshotUnexpectedLockEvent    Kind = "SnapshotUnexpectedLockEvent"
)

// Role-dispatched event kinds. The concrete kind is the port family
// name prefixed to the bare name, e.g. "BackendFCPortDownEvent".
const (
	FCPortDownEvent        RoleEvent = "FCPortDownEvent"
	FCPortUpEvent          RoleEvent = "FCPortUpEvent"
	FCPortSpeedChangeEvent RoleEvent = "FCPortSpeedChangeEvent"

	EthernetPortDownEvent        RoleEvent = "EthernetPortDownEvent"
	EthernetPortUpEvent          RoleEvent = "EthernetPortUpEvent"
	EthernetPortSpeedChangeEvent RoleEvent = "EthernetPortSpeedChangeEvent"
)

// IsRecovery reports whether a concrete kind announces a return to normal.
func IsRecovery(kind string) bool {
	return strings.HasSuffix(kind, "UpEvent") || strings.HasSuffix(kind, "OKEvent")
}
