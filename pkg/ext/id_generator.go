package ext

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator generates run identifiers.
type IDGenerator interface {
	GenerateID() string
}

// NewGoogleUUIDGenerator constructs an IDGenerator backed by random (v4)
// UUIDs.
func NewGoogleUUIDGenerator() IDGenerator {
	return &googleUUIDGenerator{}
}

type googleUUIDGenerator struct{}

func (g *googleUUIDGenerator) GenerateID() string {
	return uuid.NewString()
}

// NewSimpleIDGenerator constructs a predictable IDGenerator for tests. It
// starts at 1 and formats the counter as the last group of a UUID.
func NewSimpleIDGenerator() IDGenerator {
	return &simpleIDGenerator{}
}

type simpleIDGenerator struct {
	counter atomic.Uint64
}

func (g *simpleIDGenerator) GenerateID() string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", g.counter.Add(1))
}
