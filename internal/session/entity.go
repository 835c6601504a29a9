package session

import "strings"

type Identity struct {
	ID    string `yaml:"id,omitempty"`
	Name  string `yaml:"name"`
	Email string `yaml:"email,omitempty"`
	Phone string `yaml:"phone,omitempty"`
	Role  string `yaml:"role"`
}

// FallbackIdentity is used when the login response does not describe the
// worker. The identifier ends up as email or phone depending on its shape.
func FallbackIdentity(identifier string) Identity {
	id := Identity{Name: "Worker", Role: "worker"}
	if strings.Contains(identifier, "@") {
		id.Email = identifier
	} else {
		id.Phone = identifier
	}
	return id
}

// Session is the authenticated state of this device. There is at most one.
type Session struct {
	Identity    Identity
	Token       string
	DeviceToken string
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
