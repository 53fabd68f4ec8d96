package rapi

import (
	"fmt"
	"strconv"
	"strings"
)

// ProtocolVersion encodes major.minor.patch as major*1000 + minor*100 + patch
type ProtocolVersion int

const (
	// DefaultProtocolVersion is assumed until $GV has been negotiated
	DefaultProtocolVersion ProtocolVersion = 1000

	// HexStatusVersion is the first protocol that reports $GS state in hex
	// and adds the pilot state and vflags fields
	HexStatusVersion ProtocolVersion = 5000
)

// EncodeVersion packs the three components into a ProtocolVersion
func EncodeVersion(major, minor, patch int) ProtocolVersion {
	return ProtocolVersion(major*1000 + minor*100 + patch)
}

// ParseVersion parses a strict "major.minor.patch" string
func ParseVersion(s string) (ProtocolVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = n
	}
	return EncodeVersion(nums[0], nums[1], nums[2]), nil
}

// Major returns the major component
func (v ProtocolVersion) Major() int { return int(v) / 1000 }

// Minor returns the minor component
func (v ProtocolVersion) Minor() int { return int(v) % 1000 / 100 }

// Patch returns the patch component
func (v ProtocolVersion) Patch() int { return int(v) % 100 }

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// fieldLayout describes how a version-dependent reply is laid out
type fieldLayout struct {
	minTokens int
	base      int
}

// statusLayout returns the $GS reply layout for the negotiated version
func statusLayout(v ProtocolVersion) fieldLayout {
	if v >= HexStatusVersion {
		return fieldLayout{minTokens: 5, base: 16}
	}
	return fieldLayout{minTokens: 3, base: 10}
}
