package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random job identifier without dashes so it is safe in
// object keys and file names.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s is an identifier produced by New or a canonical UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
