// Package identifier generates and validates collision-resistant
// identifiers, used for DirectoryId values.
package identifier

import (
	"errors"
	"regexp"
	"strings"

	"github.com/helixsync/helixsync/pkg/encoding"
	"github.com/helixsync/helixsync/pkg/random"
)

const (
	// PrefixDirectory is the prefix used for directory-pairing identifiers.
	PrefixDirectory = "dir_"

	// collisionResistantLength is the number of random bytes needed to
	// ensure collision-resistance in an identifier.
	collisionResistantLength = 32
	// targetBase62Length is the target length for the Base62-encoded portion
	// of the identifier, i.e. ceil(n*8*ln(2)/ln(62)) for n =
	// collisionResistantLength.
	targetBase62Length = 43
)

// matcher is a regular expression that matches identifiers produced by New.
var matcher = regexp.MustCompile("^dir_[0-9a-zA-Z]{43}$")

// New generates a new collision-resistant DirectoryId.
func New() (string, error) {
	data, err := random.New(collisionResistantLength)
	if err != nil {
		return "", err
	}

	encoded := encoding.EncodeBase62(data)
	if len(encoded) > targetBase62Length {
		panic("encoded random data length longer than expected")
	}

	builder := &strings.Builder{}
	builder.WriteString(PrefixDirectory)
	for i := targetBase62Length - len(encoded); i > 0; i-- {
		builder.WriteByte(encoding.Base62Alphabet[0])
	}
	builder.WriteString(encoded)

	return builder.String(), nil
}

// IsValid determines whether or not a string is a validly formatted
// DirectoryId. It does not and cannot verify that the identifier was
// actually generated by New.
func IsValid(value string) bool {
	return matcher.MatchString(value)
}

// ErrInvalid is returned by callers that parse a DirectoryId and find it
// malformed.
var ErrInvalid = errors.New("invalid directory identifier")
