// Package identity derives stable identifiers for query results from the query
// text. The digest is MD5 over the UTF-8 bytes, hex encoded, so identifiers match
// any other implementation hashing the same text.
package identity

import (
	"crypto/md5" //nolint:gosec // content identity, not a security boundary
	"encoding/hex"
	"fmt"
)

// Size is the length of an Identifier in hex characters.
const Size = 2 * md5.Size

type Identifier string

func (id Identifier) String() string { return string(id) }

// Identify returns the identifier for the given query text.
func Identify(text string) Identifier {
	sum := md5.Sum([]byte(text)) //nolint:gosec
	return Identifier(hex.EncodeToString(sum[:]))
}

// IdentityError reports an identifier that does not have the expected shape.
type IdentityError struct {
	Value  string
	Reason string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Value, e.Reason)
}

// Parse validates an identifier supplied from outside the process.
func Parse(s string) (Identifier, error) {
	if len(s) != Size {
		return "", &IdentityError{Value: s, Reason: fmt.Sprintf("want %d hex characters, got %d", Size, len(s))}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", &IdentityError{Value: s, Reason: fmt.Sprintf("non lowercase-hex character at %d", i)}
		}
	}
	return Identifier(s), nil
}

// MustValid panics if id is malformed. A malformed identifier produced inside
// the process is a programming error.
func MustValid(id Identifier) Identifier {
	if _, err := Parse(string(id)); err != nil {
		panic(err)
	}
	return id
}
