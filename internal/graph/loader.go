package graph

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeSpec is one entry of the graph file.
type NodeSpec struct {
	ID       string   `yaml:"id"`
	Parents  []string `yaml:"parents,omitempty"`
	Children []string `yaml:"children,omitempty"`
}

// File is the on-disk graph format.
type File struct {
	Nodes []NodeSpec `yaml:"nodes"`
}

// ParseFile decodes and validates a graph document.
func ParseFile(data []byte) ([]NodeSpec, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse service graph: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Nodes))
	for i, n := range f.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return nil, fmt.Errorf("service graph node %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("service graph node %s declared twice", id)
		}
		seen[id] = struct{}{}
		f.Nodes[i].ID = id
	}
	return f.Nodes, nil
}

// LoadFile reads the graph file at path.
func LoadFile(path string) ([]NodeSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service graph: %w", err)
	}
	return ParseFile(data)
}

// Load builds a graph from the file at path.
func Load(path string, opts ...Option) (*ServiceGraph, error) {
	specs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	g := New(opts...)
	if err := g.Replace(specs); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return g, nil
}
