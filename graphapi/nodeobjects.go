package graphapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NodeObjects is the executor's node vocabulary, keyed by class type.
type NodeObjects struct {
	Objects map[string]*NodeObject
}

// NodeObject describes one node class the executor can run.
type NodeObject struct {
	Input       *NodeObjectInput `json:"input"`
	Output      *[]string        `json:"output"`
	OutputName  *[]string        `json:"output_name"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	OutputNode  bool             `json:"output_node"`
}

// HasInput reports whether name is a declared required or optional input.
func (n *NodeObject) HasInput(name string) bool {
	if n.Input == nil {
		return false
	}
	if _, ok := n.Input.Required[name]; ok {
		return true
	}
	_, ok := n.Input.Optional[name]
	return ok
}

type NodeObjectInput struct {
	Required        map[string]*interface{} `json:"required"`
	Optional        map[string]*interface{} `json:"optional,omitempty"`
	OrderedRequired []string                `json:"-"`
	OrderedOptional []string                `json:"-"`
}

// UnmarshalJSON keeps the declaration order of inputs, which a plain map loses.
func (noi *NodeObjectInput) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return err
	} // consume opening brace

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}

		key := t.(string)
		switch key {
		case "required", "optional":
			if _, err := dec.Token(); err != nil { // consume opening brace of nested object
				return err
			}

			currentMap := make(map[string]*interface{})
			currentOrder := make([]string, 0)
			for dec.More() {
				entryKeyToken, err := dec.Token()
				if err != nil {
					return err
				}

				entryKey := entryKeyToken.(string)
				currentOrder = append(currentOrder, entryKey)

				var i interface{}
				if err := dec.Decode(&i); err != nil {
					return err
				}
				currentMap[entryKey] = &i
			}

			if _, err := dec.Token(); err != nil { // consume closing brace of nested object
				return err
			}

			if key == "required" {
				noi.Required = currentMap
				noi.OrderedRequired = currentOrder
			} else {
				noi.Optional = currentMap
				noi.OrderedOptional = currentOrder
			}
		default:
			if err := dec.Decode(new(interface{})); err != nil { // consume and ignore non-expected field
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil { // consume closing brace
		return err
	}

	return nil
}

func (n *NodeObjects) GetNodeObjectByName(name string) *NodeObject {
	val, ok := n.Objects[name]
	if ok {
		return val
	}
	return nil
}

// CheckGraph compares a graph against the vocabulary and returns one line per
// problem: unknown node classes and parameters or inputs the class does not
// declare. An empty result means the executor should accept the graph.
func (n *NodeObjects) CheckGraph(g *Graph) []string {
	problems := make([]string, 0)
	missingClasses := make(map[string]bool)
	for _, node := range g.Nodes() {
		class := node.Kind.ClassType()
		obj := n.GetNodeObjectByName(class)
		if obj == nil {
			missingClasses[class] = true
			continue
		}

		names := make([]string, 0, len(node.Params)+len(node.Inputs))
		for k := range node.Params {
			names = append(names, k)
		}
		for k := range node.Inputs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			if !obj.HasInput(name) {
				problems = append(problems, fmt.Sprintf("node %s (%s): undeclared input %q", node.ID, class, name))
			}
		}
	}

	classes := make([]string, 0, len(missingClasses))
	for c := range missingClasses {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for _, c := range classes {
		problems = append(problems, fmt.Sprintf("missing node class %q", c))
	}
	return problems
}
