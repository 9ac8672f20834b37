package core

import (
	"github.com/google/uuid"
)

// NewID returns a random identifier for activations and imported profiles.
func NewID() string {
	return uuid.NewString()
}
