package lifecycle

import "strings"

// Checklist holds the operator-attested preconditions for a live run. No
// port is opened until every item is true.
type Checklist struct {
	MountSecured       bool `json:"mount_secured" toml:"mount_secured"`
	CableSlackVerified bool `json:"cable_slack_verified" toml:"cable_slack_verified"`
	ShutdownValidated  bool `json:"shutdown_validated" toml:"shutdown_validated"`
	PortIdentified     bool `json:"port_identified" toml:"port_identified"`
}

// AllChecked returns a fully attested checklist.
func AllChecked() Checklist {
	return Checklist{MountSecured: true, CableSlackVerified: true, ShutdownValidated: true, PortIdentified: true}
}

// Missing lists the unattested items by name.
func (c Checklist) Missing() []string {
	var out []string
	if !c.MountSecured {
		out = append(out, "mount_secured")
	}
	if !c.CableSlackVerified {
		out = append(out, "cable_slack_verified")
	}
	if !c.ShutdownValidated {
		out = append(out, "shutdown_validated")
	}
	if !c.PortIdentified {
		out = append(out, "port_identified")
	}
	return out
}

// Complete reports whether every item is attested.
func (c Checklist) Complete() bool {
	return len(c.Missing()) == 0
}

func (c Checklist) String() string {
	if m := c.Missing(); len(m) > 0 {
		return "missing " + strings.Join(m, ", ")
	}
	return "complete"
}
