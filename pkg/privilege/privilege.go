// Package privilege reports whether the current process runs with
// administrative rights.
package privilege

// Probe answers whether the process is elevated. Implementations never fail;
// any host-level query error is reported as unprivileged.
type Probe interface {
	HasElevatedPrivileges() bool
}

// HostProbe queries the running host.
type HostProbe struct{}

// NewHostProbe returns a probe for the current host.
func NewHostProbe() *HostProbe {
	return &HostProbe{}
}

// HasElevatedPrivileges reports whether the current process is elevated.
func (p *HostProbe) HasElevatedPrivileges() bool {
	elevated, err := isElevated()
	if err != nil {
		return false
	}
	return elevated
}

// Static is a fixed answer, for tests and for hosts that decide elsewhere.
type Static bool

// HasElevatedPrivileges returns the fixed value.
func (s Static) HasElevatedPrivileges() bool {
	return bool(s)
}
