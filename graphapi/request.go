package graphapi

import (
	"fmt"
	"strings"
)

// Request is a declarative generation request. It is owned by the caller
// and never modified by the builder.
type Request struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFG            float64
	// Seed is optional; nil means FallbackSeed.
	Seed *int64
	// AdapterWeights holds one strength per preset adapter, in preset order.
	AdapterWeights []float64
}

// SeedOrFallback returns the request seed, or FallbackSeed when none was given.
func (r Request) SeedOrFallback() int64 {
	if r.Seed == nil {
		return FallbackSeed
	}
	return *r.Seed
}

// Seed is a helper for filling Request.Seed from a literal.
func Seed(v int64) *int64 {
	return &v
}

func (p Preset) checkRequest(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &ConfigurationError{Field: "prompt", Reason: "is empty"}
	}
	if err := p.Bounds.Width.check("width", req.Width); err != nil {
		return err
	}
	if err := p.Bounds.Height.check("height", req.Height); err != nil {
		return err
	}
	if err := p.Bounds.Steps.check("steps", req.Steps); err != nil {
		return err
	}
	if err := p.Bounds.CFG.check("cfg", req.CFG); err != nil {
		return err
	}

	if len(req.AdapterWeights) < len(p.Adapters) {
		missing := p.Adapters[len(req.AdapterWeights)]
		return &ConfigurationError{
			Field:  "adapter_weights",
			Reason: fmt.Sprintf("has %d entries, missing required weight for adapter %q", len(req.AdapterWeights), missing.Name),
		}
	}
	if len(req.AdapterWeights) > len(p.Adapters) {
		return &ConfigurationError{
			Field:  "adapter_weights",
			Reason: fmt.Sprintf("has %d entries but only %d adapters are configured", len(req.AdapterWeights), len(p.Adapters)),
		}
	}
	for i, w := range req.AdapterWeights {
		if err := p.Bounds.AdapterWeight.check(fmt.Sprintf("adapter_weights[%d] (%s)", i, p.Adapters[i].Name), w); err != nil {
			return err
		}
	}
	return nil
}
