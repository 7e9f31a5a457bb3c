package protocol

import "errors"

// Field limits of the protocol grammar.
const (
	MaxUsernameLength    = 20
	MaxChannelIDLength   = 20
	MaxSecretLength      = 128
	MaxDisplayNameLength = 20
	MaxContentLength     = 1400
)

var (
	ErrInvalidUsername    = errors.New("username must be 1-20 characters of [A-Za-z0-9-]")
	ErrInvalidSecret      = errors.New("secret must be 1-128 characters of [A-Za-z0-9-]")
	ErrInvalidChannelID   = errors.New("channel id must be 1-20 characters of [A-Za-z0-9-]")
	ErrInvalidDisplayName = errors.New("display name must be 1-20 printable characters without spaces")
	ErrInvalidContent     = errors.New("message must be 1-1400 printable ASCII characters")
)

// ValidUsername reports whether s is a legal username
func ValidUsername(s string) bool {
	return validIdentifier(s, MaxUsernameLength)
}

// ValidSecret reports whether s is a legal secret
func ValidSecret(s string) bool {
	return validIdentifier(s, MaxSecretLength)
}

// ValidChannelID reports whether s is a legal channel id
func ValidChannelID(s string) bool {
	return validIdentifier(s, MaxChannelIDLength)
}

// ValidDisplayName reports whether s is 1-20 visible ASCII characters (0x21-0x7E)
func ValidDisplayName(s string) bool {
	return validRange(s, MaxDisplayNameLength, 0x21, 0x7E)
}

// ValidContent reports whether s is 1-1400 printable ASCII characters (0x20-0x7E)
func ValidContent(s string) bool {
	return validRange(s, MaxContentLength, 0x20, 0x7E)
}

func validIdentifier(s string, max int) bool {
	if len(s) == 0 || len(s) > max {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

func validRange(s string, max int, lo, hi byte) bool {
	if len(s) == 0 || len(s) > max {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < lo || s[i] > hi {
			return false
		}
	}
	return true
}
