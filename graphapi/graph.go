package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Graph is an immutable job graph: nodes keyed by id, edges expressed as
// OutputRefs in each node's inputs. Construct one with a Builder.
type Graph struct {
	nodes  map[NodeID]Node
	order  []NodeID
	output NodeID
}

var (
	ErrDanglingEdge   = errors.New("input references a node that is not in the graph")
	ErrCycle          = errors.New("graph contains a cycle")
	ErrNoOutputNode   = errors.New("graph has no artifact writer node")
	ErrManyOutputNode = errors.New("graph has more than one artifact writer node")
)

func newGraph(nodes []Node) (*Graph, error) {
	g := &Graph{
		nodes: make(map[NodeID]Node, len(nodes)),
		order: make([]NodeID, 0, len(nodes)),
	}
	for _, n := range nodes {
		if _, ok := g.nodes[n.ID]; ok {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	output, err := g.findOutput()
	if err != nil {
		return nil, err
	}
	g.output = output
	if _, err := g.TopologicalOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

// Len returns the number of nodes.
func (t *Graph) Len() int {
	return len(t.order)
}

// Node returns a copy of the node with the given id.
func (t *Graph) Node(id NodeID) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Nodes returns copies of all nodes in construction order.
func (t *Graph) Nodes() []Node {
	retv := make([]Node, 0, len(t.order))
	for _, id := range t.order {
		retv = append(retv, t.nodes[id].clone())
	}
	return retv
}

// GetNodesWithKind returns copies of the nodes of a kind, in construction order.
func (t *Graph) GetNodesWithKind(kind NodeKind) []Node {
	retv := make([]Node, 0)
	for _, id := range t.order {
		if n := t.nodes[id]; n.Kind == kind {
			retv = append(retv, n.clone())
		}
	}
	return retv
}

// OutputNodeID is the id of the single ArtifactWriter node, whose outputs
// are the graph's externally visible result.
func (t *Graph) OutputNodeID() NodeID {
	return t.output
}

// Validate checks that every edge resolves inside the graph, that the graph
// is acyclic, and that exactly one ArtifactWriter exists.
func (t *Graph) Validate() error {
	if _, err := t.findOutput(); err != nil {
		return err
	}
	_, err := t.TopologicalOrder()
	return err
}

func (t *Graph) findOutput() (NodeID, error) {
	var output NodeID
	for _, id := range t.order {
		if t.nodes[id].Kind != ArtifactWriter {
			continue
		}
		if output != "" {
			return "", ErrManyOutputNode
		}
		output = id
	}
	if output == "" {
		return "", ErrNoOutputNode
	}
	return output, nil
}

// TopologicalOrder returns node ids such that every producer precedes its
// consumers. Ties are broken by construction order.
func (t *Graph) TopologicalOrder() ([]NodeID, error) {
	indegree := make(map[NodeID]int, len(t.nodes))
	consumers := make(map[NodeID][]NodeID, len(t.nodes))
	for _, id := range t.order {
		n := t.nodes[id]
		for _, name := range sortedInputNames(n.Inputs) {
			ref := n.Inputs[name]
			if _, ok := t.nodes[ref.Node]; !ok {
				return nil, fmt.Errorf("%w: node %s input %q -> %s", ErrDanglingEdge, id, name, ref.Node)
			}
			indegree[id]++
			consumers[ref.Node] = append(consumers[ref.Node], id)
		}
	}

	ready := make([]NodeID, 0)
	for _, id := range t.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	retv := make([]NodeID, 0, len(t.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		retv = append(retv, id)
		for _, c := range consumers[id] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(retv) != len(t.order) {
		return nil, ErrCycle
	}
	return retv, nil
}

func sortedInputNames(inputs map[string]OutputRef) []string {
	names := make([]string, 0, len(inputs))
	for k := range inputs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON writes the graph in the executor's wire format:
// {"<id>": {"kind": ..., "params": {...}, "inputs": {"name": ["<id>", slot]}}}.
// Map keys are emitted sorted, so equal graphs marshal to identical bytes.
func (t *Graph) MarshalJSON() ([]byte, error) {
	wire := make(map[string]wireNode, len(t.nodes))
	for id, n := range t.nodes {
		wire[string(id)] = n.toWire()
	}
	return json.Marshal(wire)
}

func (t *Graph) UnmarshalJSON(b []byte) error {
	wire := make(map[string]wireNode)
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	ids := make([]string, 0, len(wire))
	for id := range wire {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)

	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		w := wire[id]
		kind, ok := NodeKindFromClassType(w.Kind)
		if !ok {
			return fmt.Errorf("node %s has unknown kind %q", id, w.Kind)
		}
		nodes = append(nodes, Node{
			ID:     NodeID(id),
			Kind:   kind,
			Params: w.Params,
			Inputs: w.Inputs,
		})
	}

	g, err := newGraph(nodes)
	if err != nil {
		return err
	}
	*t = *g
	return nil
}

// sortNodeIDs puts numeric ids first, in numeric order, which restores
// construction order for built graphs. Other ids follow in lexical order.
func sortNodeIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		x, xerr := strconv.Atoi(ids[i])
		y, yerr := strconv.Atoi(ids[j])
		switch {
		case xerr == nil && yerr == nil:
			if x != y {
				return x < y
			}
			// "7" and "07"
			return ids[i] < ids[j]
		case xerr == nil:
			return true
		case yerr == nil:
			return false
		}
		return ids[i] < ids[j]
	})
}

// GraphToJSON returns the wire form of the graph as a string.
func (t *Graph) GraphToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveGraphToFile writes the wire form of the graph to path.
func (t *Graph) SaveGraphToFile(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
