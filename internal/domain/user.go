package domain

// Capability names consumed by the admission and operator surfaces.
// The credential store defines the full set; these are the ones the
// job coordinator checks itself.
const (
	CapOperator = "OPERATE_BATCH_JOBS"
)

// User is the resolved identity behind a session token. The coordinator
// reads it; it never authors users.
type User struct {
	Name         string
	DisplayName  string
	Email        string
	Capabilities []string
}

// Can reports whether the user holds the named capability.
func (u User) Can(capability string) bool {
	for _, c := range u.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
