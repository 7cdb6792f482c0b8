// Package decoding is the registration surface for per-contract event
// decoders, the user-supplied ABI-lookup collaborator internal/scheduler's
// EventDecoder delegates to. It is kept separate from pkg/indexing to avoid
// an import cycle: a Decoder's method signature binds internal/syncstore's
// DecodedEvent directly, the same type internal/scheduler's EventDecoder
// expects, so any registered Decoder satisfies that interface structurally
// with no adapter needed.
package decoding

import (
	"fmt"
	"sync"

	"github.com/evmindex/evmindex/internal/syncstore"
)

// Decoder turns a raw stored log into the argument map a Handler sees.
type Decoder interface {
	Decode(contract, event string, e syncstore.DecodedEvent) (map[string]any, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Decoder)
)

// Register binds a Decoder to every event of one contract. It panics on a
// duplicate registration, the same fail-fast-at-init-time behavior as
// pkg/indexing.Register.
func Register(contract string, d Decoder) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[contract]; exists {
		panic(fmt.Sprintf("decoding: contract %q already registered", contract))
	}
	registry[contract] = d
}

// Get returns the Decoder registered for contract, if any.
func Get(contract string) (Decoder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := registry[contract]
	return d, ok
}

// Reset clears the registry; test-only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Decoder)
}
