// Package uuid generates random identifiers for transactions and records.
package uuid

import guuid "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return guuid.NewString()
}
