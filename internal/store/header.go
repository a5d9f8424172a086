// Package store persists router and connector state as a header line
// followed by a JSON document.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Release is the version written in persisted headers.
const Release = "0.1.0"

var (
	ErrInvalidHeader    = errors.New("invalid persisted header")
	ErrInvalidVersion   = errors.New("invalid release version")
	ErrInvalidCondition = errors.New("invalid version condition")
	ErrDecode           = errors.New("persisted data cannot be decoded")
	ErrNotFound         = errors.New("persisted profile not found")

	headerRegex  = regexp.MustCompile(`^Persisted on (?P<date>.*) \[aegisrouter (?P<version>.*)\]$`)
	versionRegex = regexp.MustCompile(`^(\d+)\.(\d+)([a-z.]*)(\d+)$`)
)

const headerDateLayout = time.ANSIC

// Header is the first line of every persisted document.
type Header struct {
	Date    time.Time
	Version string
}

func (h Header) String() string {
	return fmt.Sprintf("Persisted on %s [aegisrouter %s]", h.Date.Format(headerDateLayout), h.Version)
}

// ParseHeader validates the header format, then the version syntax.
func ParseHeader(line string) (Header, error) {
	m := headerRegex.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return Header{}, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
	}
	date, err := time.Parse(headerDateLayout, m[1])
	if err != nil {
		if date, err = time.Parse(time.RFC3339, m[1]); err != nil {
			return Header{}, fmt.Errorf("%w: date %q", ErrInvalidHeader, m[1])
		}
	}
	if _, err := ParseVersion(m[2]); err != nil {
		return Header{}, err
	}
	return Header{Date: date, Version: m[2]}, nil
}

// ParseVersion turns "major.minor<tag>patch" into a comparable number,
// e.g. 0.9rc12 gives 0.9012.
func ParseVersion(version string) (decimal.Decimal, error) {
	m := versionRegex.FindStringSubmatch(version)
	if m == nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	patch := m[4]
	if len(patch) < 3 {
		patch = strings.Repeat("0", 3-len(patch)) + patch
	}
	return decimal.NewFromString(m[1] + "." + m[2] + patch)
}

// VersionIsValid compares version against a condition such as "<=0.52".
func VersionIsValid(version, condition string) (bool, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return false, err
	}

	var op string
	switch {
	case len(condition) >= 2 && (condition[:2] == ">=" || condition[:2] == "<=" || condition[:2] == "=="):
		op = condition[:2]
	case len(condition) >= 1 && (condition[:1] == ">" || condition[:1] == "<"):
		op = condition[:1]
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidCondition, condition)
	}
	c, err := decimal.NewFromString(condition[len(op):])
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidCondition, condition)
	}

	switch op {
	case ">=":
		return v.GreaterThanOrEqual(c), nil
	case "<=":
		return v.LessThanOrEqual(c), nil
	case "==":
		return v.Equal(c), nil
	case ">":
		return v.GreaterThan(c), nil
	default:
		return v.LessThan(c), nil
	}
}
