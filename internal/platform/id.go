package platform

import "github.com/google/uuid"

// NewID returns a random UUID string used for order, subscription and
// event identifiers.
func NewID() string {
	return uuid.New().String()
}
