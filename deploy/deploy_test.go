package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaciejBaj/cargo-contract/bundle"
)

type fakeSubmitter struct {
	name   string
	called int
}

func (f *fakeSubmitter) Name() string { return f.name }

func (f *fakeSubmitter) Submit(ctx context.Context, b *bundle.Bundle, endpoint string) (*TxResult, error) {
	f.called++
	return &TxResult{TxHash: "0xabc", CodeHash: b.Manifest.CodeHash}, nil
}

func resetRegistry() {
	mu.Lock()
	submitters = make(map[string]Submitter)
	mu.Unlock()
}

func TestRegistry(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	_, err := Default()
	assert.Error(t, err, "empty registry has no default")
	_, err = Lookup("substrate")
	assert.Error(t, err)

	s := &fakeSubmitter{name: "substrate"}
	Register(s)

	got, err := Lookup("substrate")
	require.NoError(t, err)
	assert.Same(t, Submitter(s), got)

	def, err := Default()
	require.NoError(t, err)
	assert.Same(t, Submitter(s), def)

	assert.Panics(t, func() { Register(&fakeSubmitter{name: "substrate"}) })

	Register(&fakeSubmitter{name: "other"})
	_, err = Default()
	assert.Error(t, err, "ambiguous default")
}
