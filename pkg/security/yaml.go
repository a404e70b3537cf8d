// Package security holds input hardening shared by config loading and the
// file pipeline.
package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLLimits bounds the structure of an untrusted YAML document.
type YAMLLimits struct {
	MaxSize      int // bytes
	MaxDepth     int
	MaxNodes     int // counted after alias expansion
	MaxKeyLength int
}

// DefaultYAMLLimits returns limits suited to a hand-written config file.
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxSize:      1 << 20,
		MaxDepth:     16,
		MaxNodes:     10000,
		MaxKeyLength: 256,
	}
}

// DecodeYAML checks data against limits and then decodes it into v.
// Aliases are followed while counting so anchor expansion cannot blow up.
func DecodeYAML(data []byte, v any, limits YAMLLimits) error {
	if len(data) > limits.MaxSize {
		return fmt.Errorf("yaml document too large (%d bytes, max %d)", len(data), limits.MaxSize)
	}

	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	w := &yamlWalker{limits: limits}
	if err := w.walk(&root, 0); err != nil {
		return err
	}
	return root.Decode(v)
}

type yamlWalker struct {
	limits YAMLLimits
	nodes  int
}

func (w *yamlWalker) walk(n *yaml.Node, depth int) error {
	if depth > w.limits.MaxDepth {
		return fmt.Errorf("yaml nesting deeper than %d", w.limits.MaxDepth)
	}
	w.nodes++
	if w.nodes > w.limits.MaxNodes {
		return fmt.Errorf("yaml document has more than %d nodes", w.limits.MaxNodes)
	}

	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		next := depth + 1
		if n.Kind == yaml.DocumentNode {
			next = depth
		}
		for _, c := range n.Content {
			if err := w.walk(c, next); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if len(n.Content[i].Value) > w.limits.MaxKeyLength {
				return fmt.Errorf("yaml key longer than %d bytes", w.limits.MaxKeyLength)
			}
			if err := w.walk(n.Content[i+1], depth+1); err != nil {
				return err
			}
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			return w.walk(n.Alias, depth+1)
		}
	}
	return nil
}
