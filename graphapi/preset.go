package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// FallbackSeed is used whenever a request carries no seed.
const FallbackSeed int64 = 3891560175039

// Adapter is a named, weighted style modifier applied on top of the checkpoint.
type Adapter struct {
	Name          string  `json:"name"`
	File          string  `json:"file"`
	DefaultWeight float64 `json:"default_weight"`
}

// IntRange is an inclusive bound with an optional step that values must be a multiple of.
type IntRange struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step,omitempty"`
}

func (r IntRange) check(name string, v int) error {
	if v < r.Min || v > r.Max {
		return &ConfigurationError{Field: name, Reason: fmt.Sprintf("%d is outside [%d, %d]", v, r.Min, r.Max)}
	}
	if r.Step > 0 && v%r.Step != 0 {
		return &ConfigurationError{Field: name, Reason: fmt.Sprintf("%d is not a multiple of %d", v, r.Step)}
	}
	return nil
}

// FloatRange is an inclusive bound.
type FloatRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r FloatRange) check(name string, v float64) error {
	if math.IsNaN(v) || v < r.Min || v > r.Max {
		return &ConfigurationError{Field: name, Reason: fmt.Sprintf("%g is outside [%g, %g]", v, r.Min, r.Max)}
	}
	return nil
}

// Bounds limits the request values a Builder accepts.
type Bounds struct {
	Width         IntRange   `json:"width"`
	Height        IntRange   `json:"height"`
	Steps         IntRange   `json:"steps"`
	CFG           FloatRange `json:"cfg"`
	AdapterWeight FloatRange `json:"adapter_weight"`
}

// Preset is the fixed configuration a graph is built from: which checkpoint,
// which adapters in which order, which sampler, and the request bounds.
type Preset struct {
	Checkpoint     string    `json:"checkpoint"`
	Adapters       []Adapter `json:"adapters"`
	SamplerName    string    `json:"sampler_name"`
	Scheduler      string    `json:"scheduler"`
	Denoise        float64   `json:"denoise"`
	FilenamePrefix string    `json:"filename_prefix"`
	Bounds         Bounds    `json:"bounds"`
}

// DefaultPreset returns the realism checkpoint with its seven style adapters.
func DefaultPreset() Preset {
	adapter := func(name string, w float64) Adapter {
		return Adapter{Name: name, File: name + ".safetensors", DefaultWeight: w}
	}
	return Preset{
		Checkpoint: "realismIllustriousBy_v50FP16.safetensors",
		Adapters: []Adapter{
			adapter("Pony Realism Slider", 1.0),
			adapter("RealSkin_slider", 1.0),
			adapter("insta baddie PN", 0.94),
			adapter("Real_Beauty", 0.9),
			adapter("Pony_DetailV2.0", 3.0),
			adapter("perfect ass sliderV1", 0.34),
			adapter("Detail_Tweaker_Illustrious_BSY_V3", 0.0),
		},
		SamplerName:    "dpmpp_sde",
		Scheduler:      "normal",
		Denoise:        1.0,
		FilenamePrefix: "pony",
		Bounds: Bounds{
			Width:         IntRange{Min: 512, Max: 1536, Step: 64},
			Height:        IntRange{Min: 512, Max: 1536, Step: 64},
			Steps:         IntRange{Min: 10, Max: 50},
			CFG:           FloatRange{Min: 1.0, Max: 20.0},
			AdapterWeight: FloatRange{Min: -5.0, Max: 5.0},
		},
	}
}

// DefaultWeights returns each adapter's default weight, in adapter order.
func (p Preset) DefaultWeights() []float64 {
	retv := make([]float64, len(p.Adapters))
	for i, a := range p.Adapters {
		retv[i] = a.DefaultWeight
	}
	return retv
}

// AdapterNames returns the adapter names in order.
func (p Preset) AdapterNames() []string {
	retv := make([]string, len(p.Adapters))
	for i, a := range p.Adapters {
		retv[i] = a.Name
	}
	return retv
}

// Check reports whether the preset itself is usable.
func (p Preset) Check() error {
	if p.Checkpoint == "" {
		return &ConfigurationError{Field: "checkpoint", Reason: "is empty"}
	}
	if p.SamplerName == "" {
		return &ConfigurationError{Field: "sampler_name", Reason: "is empty"}
	}
	if p.Scheduler == "" {
		return &ConfigurationError{Field: "scheduler", Reason: "is empty"}
	}
	for i, a := range p.Adapters {
		if a.File == "" {
			return &ConfigurationError{Field: fmt.Sprintf("adapters[%d]", i), Reason: "has no file"}
		}
	}
	return nil
}

// NewPresetFromJsonReader reads a preset. Fields absent from the JSON keep
// their DefaultPreset values.
func NewPresetFromJsonReader(r io.Reader) (Preset, error) {
	p := DefaultPreset()
	p.Adapters = nil
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return Preset{}, errors.New("preset is empty")
		}
		return Preset{}, err
	}
	if p.Adapters == nil {
		p.Adapters = DefaultPreset().Adapters
	}
	for i := range p.Adapters {
		if p.Adapters[i].File == "" && p.Adapters[i].Name != "" {
			p.Adapters[i].File = p.Adapters[i].Name + ".safetensors"
		}
	}
	if err := p.Check(); err != nil {
		return Preset{}, err
	}
	return p, nil
}

// NewPresetFromJsonFile reads a preset from a JSON file.
func NewPresetFromJsonFile(path string) (Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Preset{}, err
	}
	defer f.Close()
	return NewPresetFromJsonReader(f)
}
