package scenario

import (
	"context"
	"io"
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// Provider yields pre-generated bundles in order.
type Provider struct {
	mu      sync.Mutex
	bundles []ports.ParameterBundle
	next    int
}

// NewProvider creates a Provider over bundles.
func NewProvider(bundles []ports.ParameterBundle) *Provider {
	return &Provider{bundles: bundles}
}

// FromScript generates the bundles of a script and wraps them in a Provider.
func FromScript(seq ports.SequenceParams, s *Script) (*Provider, error) {
	bundles, err := Generate(seq, s)
	if err != nil {
		return nil, err
	}
	return NewProvider(bundles), nil
}

// Next returns the next bundle, or io.EOF after the last one.
func (p *Provider) Next(ctx context.Context) (*ports.ParameterBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.bundles) {
		return nil, io.EOF
	}
	b := p.bundles[p.next]
	p.next++
	return &b, nil
}

// Len returns the total number of bundles.
func (p *Provider) Len() int {
	return len(p.bundles)
}

var _ ports.ParameterBundleProvider = (*Provider)(nil)
