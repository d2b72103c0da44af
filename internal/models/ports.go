package models

import "strings"

// LinkUp is the link state reported for an operational port.
const LinkUp = "up"

// PortFamily is the side of the appliance a port serves.
type PortFamily int

const (
	FamilyUndefined PortFamily = iota
	FamilyFrontend
	FamilyBackend
)

func (f PortFamily) String() string {
	switch f {
	case FamilyFrontend:
		return "Frontend"
	case FamilyBackend:
		return "Backend"
	default:
		return "Undefined"
	}
}

// Bond is an aggregated network interface.
type Bond struct {
	Base
	Status bool     `json:"status"`
	Slaves []string `json:"slaves,omitempty"`
}

func (b *Bond) Kind() ComponentName { return ComponentBonds }

func (b *Bond) Attributes() map[string]any {
	return map[string]any{
		"name":   b.Name,
		"status": b.Status,
	}
}

// FCPort is a Fibre-Channel port.
type FCPort struct {
	Base
	LinkState       string `json:"link_state"`
	ConnectionSpeed string `json:"connection_speed"`
	Role            string `json:"role"`
	WWN             string `json:"wwn,omitempty"`
}

func (p *FCPort) Kind() ComponentName { return ComponentFCPorts }

// IsUp reports whether the link state is up.
func (p *FCPort) IsUp() bool { return strings.EqualFold(p.LinkState, LinkUp) }

// PortFamily classifies the port from its role. Unknown roles are undefined.
func (p *FCPort) PortFamily() PortFamily {
	role := strings.ToLower(p.Role)
	switch {
	case strings.Contains(role, "backend"):
		return FamilyBackend
	case strings.Contains(role, "frontend"):
		return FamilyFrontend
	default:
		return FamilyUndefined
	}
}

func (p *FCPort) Attributes() map[string]any {
	return map[string]any{
		"name":             p.Name,
		"link_state":       p.LinkState,
		"connection_speed": p.ConnectionSpeed,
		"role":             p.Role,
		"wwn":              p.WWN,
	}
}

// EthernetPort is a physical ethernet interface.
type EthernetPort struct {
	Base
	LinkState    string `json:"link_state"`
	MaximumSpeed string `json:"maximum_speed"`
	MAC          string `json:"mac,omitempty"`
}

func (p *EthernetPort) Kind() ComponentName { return ComponentEthernetPorts }

// IsUp reports whether the link state is up.
func (p *EthernetPort) IsUp() bool { return strings.EqualFold(p.LinkState, LinkUp) }

// PortFamily classifies the port by interface naming: "em" interfaces are
// on the backend, everything else faces clients.
func (p *EthernetPort) PortFamily() PortFamily {
	if strings.Contains(strings.ToLower(p.Name), "em") {
		return FamilyBackend
	}
	return FamilyFrontend
}

func (p *EthernetPort) Attributes() map[string]any {
	return map[string]any{
		"name":          p.Name,
		"link_state":    p.LinkState,
		"maximum_speed": p.MaximumSpeed,
		"mac":           p.MAC,
	}
}
