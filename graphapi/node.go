package graphapi

import (
	"encoding/json"
	"fmt"
	"maps"
)

// NodeKind is the closed set of processing stages the executor understands.
type NodeKind int

const (
	CheckpointLoader NodeKind = iota
	AdapterLoader
	TextEncoder
	LatentAllocator
	Sampler
	Decoder
	ArtifactWriter
)

// ClassType returns the executor's class name for the kind.
func (k NodeKind) ClassType() string {
	switch k {
	case CheckpointLoader:
		return "CheckpointLoaderSimple"
	case AdapterLoader:
		return "LoraLoader"
	case TextEncoder:
		return "CLIPTextEncode"
	case LatentAllocator:
		return "EmptyLatentImage"
	case Sampler:
		return "KSampler"
	case Decoder:
		return "VAEDecode"
	case ArtifactWriter:
		return "SaveImage"
	}
	return ""
}

func (k NodeKind) String() string {
	switch k {
	case CheckpointLoader:
		return "CheckpointLoader"
	case AdapterLoader:
		return "AdapterLoader"
	case TextEncoder:
		return "TextEncoder"
	case LatentAllocator:
		return "LatentAllocator"
	case Sampler:
		return "Sampler"
	case Decoder:
		return "Decoder"
	case ArtifactWriter:
		return "ArtifactWriter"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// AllNodeKinds lists every kind in declaration order.
func AllNodeKinds() []NodeKind {
	return []NodeKind{CheckpointLoader, AdapterLoader, TextEncoder, LatentAllocator, Sampler, Decoder, ArtifactWriter}
}

// NodeKindFromClassType maps an executor class name back to its kind.
func NodeKindFromClassType(classType string) (NodeKind, bool) {
	for _, k := range AllNodeKinds() {
		if k.ClassType() == classType {
			return k, true
		}
	}
	return 0, false
}

// NodeID identifies a node within one Graph.
type NodeID string

// Output slots of the stages the builder wires together.
const (
	SlotModel = 0
	SlotClip  = 1
	SlotVAE   = 2

	SlotConditioning = 0
	SlotLatent       = 0
	SlotImage        = 0
)

// OutputRef points at one output slot of a producer node. It is an edge, never a value.
type OutputRef struct {
	Node NodeID
	Slot int
}

// MarshalJSON writes the reference in the executor's tuple form: ["<node>", slot].
func (r OutputRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{string(r.Node), r.Slot})
}

func (r *OutputRef) UnmarshalJSON(b []byte) error {
	var tmp []interface{}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	if len(tmp) != 2 {
		return fmt.Errorf("output reference must have 2 fields, got %d", len(tmp))
	}

	node, ok := tmp[0].(string)
	if !ok {
		return fmt.Errorf("output reference node must be a string, got %T", tmp[0])
	}
	slot, ok := tmp[1].(float64)
	if !ok {
		return fmt.Errorf("output reference slot must be a number, got %T", tmp[1])
	}
	r.Node = NodeID(node)
	r.Slot = int(slot)
	return nil
}

// Node is a typed processing stage with literal parameters and input edges.
type Node struct {
	ID     NodeID
	Kind   NodeKind
	Params map[string]interface{}
	Inputs map[string]OutputRef
}

func (n Node) clone() Node {
	n.Params = maps.Clone(n.Params)
	n.Inputs = maps.Clone(n.Inputs)
	return n
}

// wireNode is the executor's per-node JSON shape.
type wireNode struct {
	Kind   string                 `json:"kind"`
	Params map[string]interface{} `json:"params"`
	Inputs map[string]OutputRef   `json:"inputs"`
}

func (n Node) toWire() wireNode {
	w := wireNode{
		Kind:   n.Kind.ClassType(),
		Params: n.Params,
		Inputs: n.Inputs,
	}
	if w.Params == nil {
		w.Params = map[string]interface{}{}
	}
	if w.Inputs == nil {
		w.Inputs = map[string]OutputRef{}
	}
	return w
}
