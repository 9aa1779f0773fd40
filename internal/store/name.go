package store

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidName is returned for database names that cannot be used as a
// file name.
var ErrInvalidName = errors.New("invalid database name")

// NormalizeName returns the NFC form of name, so that visually identical
// names always address the same namespace.
func NormalizeName(name string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(name))
	switch {
	case n == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	case n == "." || n == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, n)
	case strings.ContainsAny(n, "/\\\x00"):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, n)
	}
	return n, nil
}
