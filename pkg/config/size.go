package config

import (
	"github.com/dustin/go-humanize"
)

// ByteSize is a uint64 that unmarshals from either a human-friendly string
// ("500 MB") or a bare numeric byte count, and formats back to a
// human-friendly string for display.
type ByteSize uint64

// UnmarshalText implements the text-unmarshalling interface used by
// gopkg.in/yaml.v2 when decoding a scalar YAML value.
func (s *ByteSize) UnmarshalText(textBytes []byte) error {
	value, err := humanize.ParseBytes(string(textBytes))
	if err != nil {
		return err
	}
	*s = ByteSize(value)
	return nil
}

// String renders the size using humanize's SI (decimal, 1000-based) prefix
// convention, e.g. "500 MB".
func (s ByteSize) String() string {
	return humanize.Bytes(uint64(s))
}
