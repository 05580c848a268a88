package core

import (
	"fmt"
	"strings"
)

// Identity is the phone-number key every piece of session state is scoped to.
type Identity string

// ParseIdentity normalises a user supplied phone number into an Identity.
// Spaces, dashes and a leading '+' are dropped; 8 to 15 digits must remain.
func ParseIdentity(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)

	if len(s) < 8 || len(s) > 15 {
		return "", fmt.Errorf("%w: %q must have 8 to 15 digits", ErrInvalidIdentity, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q contains non-digit characters", ErrInvalidIdentity, raw)
		}
	}

	return Identity(s), nil
}

func (id Identity) String() string {
	return string(id)
}
