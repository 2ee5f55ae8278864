package session

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidIdentity is returned for an empty or malformed account identifier.
var ErrInvalidIdentity = errors.New("session: invalid identity")

var (
	identitySeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	validIdentityRe    = regexp.MustCompile(`^[0-9]{6,15}$`)
)

// NormalizeIdentity converts a user-provided phone number into the canonical
// identity used for store namespaces and transport addressing:
//   - surrounding whitespace and a leading "+" are dropped
//   - spaces, dashes, dots and parentheses are removed
//   - the result must be 6 to 15 digits (E.164 without the plus)
func NormalizeIdentity(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	s = identitySeparators.Replace(s)
	if s == "" {
		return "", ErrInvalidIdentity
	}
	if !validIdentityRe.MatchString(s) {
		return "", ErrInvalidIdentity
	}
	return s, nil
}
