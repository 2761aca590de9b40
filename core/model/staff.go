package model

// Availability is the self-reported availability of a staff member.
type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
	OffDuty   Availability = "off_duty"
)

// StaffMember is the read-only view of a staff directory entry.
type StaffMember struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Roles        []string     `json:"roles" yaml:"roles"`
	Active       bool         `json:"active" yaml:"active"`
	Suspended    bool         `json:"suspended" yaml:"suspended"`
	Availability Availability `json:"availability" yaml:"availability"`
	// Endpoint is the notification address (push token, MQTT client id...).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint"`
}

// HasValidEndpoint reports whether the member can be reached by the
// notification gateway.
func (s StaffMember) HasValidEndpoint() bool { return s.Endpoint != "" }

func (s StaffMember) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}
