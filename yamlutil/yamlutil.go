// Package yamlutil serializes structured documents into the block-indented
// YAML form consumed by the CI engine, applying the formatting styles the
// pipeline library expects (flow style for scalar sequences, 2-space
// indentation).
package yamlutil

import (
	"bytes"
	"fmt"

	"go.yaml.in/yaml/v4"
)

// Marshal serializes data to YAML while preserving specific formatting
// styles. Sequences whose items are all scalars are rendered inline as
// ["value"] instead of multiline lists.
func Marshal(data map[string]interface{}) ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(data); err != nil {
		return nil, fmt.Errorf("error encoding data to yaml node: %w", err)
	}

	processNode(&node)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return nil, fmt.Errorf("error encoding yaml: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("error closing encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses YAML content into a map of string to interface.
func Unmarshal(content []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := yaml.Unmarshal(content, &result); err != nil {
		return nil, fmt.Errorf("error parsing yaml: %w", err)
	}
	return result, nil
}

// processNode recursively traverses the YAML node tree to apply custom
// styling. Indentation is managed by the encoder.
func processNode(node *yaml.Node) {
	if node == nil {
		return
	}

	for i := range node.Content {
		processNode(node.Content[i])
	}

	// Apply flow style only to sequences where ALL items are scalars.
	// Sequences containing maps or nested sequences stay in block style
	// for readability.
	if node.Kind == yaml.SequenceNode && len(node.Content) > 0 {
		allScalar := true
		for _, child := range node.Content {
			if child.Kind != yaml.ScalarNode {
				allScalar = false
				break
			}
		}

		if allScalar {
			node.Style = yaml.FlowStyle
			for j := range node.Content {
				node.Content[j].Style = yaml.DoubleQuotedStyle
			}
		}
	}
}
