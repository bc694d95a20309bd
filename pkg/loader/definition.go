// Package loader parses and validates flow definitions produced by the visual editor.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition is wrapped by every validation failure
var ErrInvalidDefinition = errors.New("invalid flow definition")

// DocumentNodeType marks document-loader nodes
const DocumentNodeType = "document"

// Document-loader defaults applied when a node leaves them unset
const (
	DefaultChunkSize    = 4000
	DefaultChunkOverlap = 1000
	DefaultTopK         = 4
)

// Definition is the editor's node graph
type Definition struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node is one node of the graph. Data is free-form per node type.
type Node struct {
	ID    string                 `json:"id" yaml:"id"`
	Type  string                 `json:"type" yaml:"type"`
	Label string                 `json:"label,omitempty" yaml:"label,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// Edge connects two nodes
type Edge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Parse decodes a JSON definition
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// ParseFile decodes a definition read from path; .yaml and .yml files are YAML, others JSON
func ParseFile(path string, data []byte) (*Definition, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return Parse(data)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// Validate checks node ids and edge references, and applies document-loader defaults
func (d *Definition) Validate() error {
	ids := make(map[string]struct{}, len(d.Nodes))
	for i := range d.Nodes {
		node := &d.Nodes[i]
		if node.ID == "" {
			return fmt.Errorf("%w: node %d has no id", ErrInvalidDefinition, i)
		}
		if _, dup := ids[node.ID]; dup {
			return fmt.Errorf("%w: duplicate node id '%s'", ErrInvalidDefinition, node.ID)
		}
		ids[node.ID] = struct{}{}

		if node.Type == DocumentNodeType {
			if err := node.applyDocumentDefaults(); err != nil {
				return err
			}
		}
	}

	for _, edge := range d.Edges {
		if _, ok := ids[edge.Source]; !ok {
			return fmt.Errorf("%w: edge '%s' references non-existent source node '%s'", ErrInvalidDefinition, edge.ID, edge.Source)
		}
		if _, ok := ids[edge.Target]; !ok {
			return fmt.Errorf("%w: edge '%s' references non-existent target node '%s'", ErrInvalidDefinition, edge.ID, edge.Target)
		}
	}

	return nil
}

func (n *Node) applyDocumentDefaults() error {
	if n.Data == nil {
		n.Data = make(map[string]interface{})
	}

	values := make(map[string]int, 3)
	for key, def := range map[string]int{
		"chunkSize":    DefaultChunkSize,
		"chunkOverlap": DefaultChunkOverlap,
		"topK":         DefaultTopK,
	} {
		v, err := intValue(n.Data[key])
		if err != nil {
			return fmt.Errorf("%w: node '%s' %s: %v", ErrInvalidDefinition, n.ID, key, err)
		}
		if v <= 0 {
			v = def
		}
		n.Data[key] = v
		values[key] = v
	}

	if values["chunkOverlap"] >= values["chunkSize"] {
		return fmt.Errorf("%w: node '%s' chunkOverlap %d must be smaller than chunkSize %d",
			ErrInvalidDefinition, n.ID, values["chunkOverlap"], values["chunkSize"])
	}

	return nil
}

// intValue reads a numeric data field; JSON numbers arrive as float64, YAML as int
func intValue(v interface{}) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// JSON encodes the definition for storage
func (d *Definition) JSON() (json.RawMessage, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow definition: %w", err)
	}
	return data, nil
}

// Normalize parses, validates and re-encodes a stored definition.
// An empty input is an empty graph.
func Normalize(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{"nodes":[],"edges":[]}`), nil
	}

	def, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def.JSON()
}
