// Package deploy defines the submission boundary. The build pipeline ends at
// a bundle; putting that bundle on chain is delegated to a Submitter
// registered by the embedding application. This package carries no network
// code of its own.
package deploy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MaciejBaj/cargo-contract/bundle"
)

// TxResult reports a completed submission.
type TxResult struct {
	// TxHash identifies the submission transaction, in whatever rendering
	// the target chain uses.
	TxHash string
	// CodeHash is the on-chain identity of the uploaded code.
	CodeHash string
	// Account is the instantiated contract account, if the submitter
	// instantiates as well as uploads.
	Account string
}

// Submitter puts a bundle on chain.
type Submitter interface {
	// Name identifies the submitter in the registry and in CLI output.
	Name() string
	// Submit uploads the bundle to the given endpoint. It must honor ctx
	// cancellation.
	Submit(ctx context.Context, b *bundle.Bundle, endpoint string) (*TxResult, error)
}

var (
	mu         sync.RWMutex
	submitters = make(map[string]Submitter)
)

// Register makes a submitter available by name. Registering the same name
// twice panics; submitters are wired once at program start.
func Register(s Submitter) {
	mu.Lock()
	defer mu.Unlock()
	name := s.Name()
	if _, dup := submitters[name]; dup {
		panic(fmt.Sprintf("deploy: submitter %q registered twice", name))
	}
	submitters[name] = s
}

// Lookup returns the submitter registered under name.
func Lookup(name string) (Submitter, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := submitters[name]
	if !ok {
		return nil, fmt.Errorf("deploy: no submitter %q registered (have %v)", name, names())
	}
	return s, nil
}

// Default returns the sole registered submitter, or an error when zero or
// several are registered.
func Default() (Submitter, error) {
	mu.RLock()
	defer mu.RUnlock()
	switch len(submitters) {
	case 0:
		return nil, fmt.Errorf("deploy: no submitter registered")
	case 1:
		for _, s := range submitters {
			return s, nil
		}
		panic("unreachable")
	default:
		return nil, fmt.Errorf("deploy: multiple submitters registered %v, pick one by name", names())
	}
}

func names() []string {
	out := make([]string, 0, len(submitters))
	for n := range submitters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
