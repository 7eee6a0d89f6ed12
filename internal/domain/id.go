package domain

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for application-owned records. UUIDv7 sorts
// by creation time, which keeps audit ids roughly chronological.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
