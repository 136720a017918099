package introspect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// YAMLSource reads raw models from YAML documents. A document holds one
// model list:
//
//	entities:
//	  - name: Author
//	    fields:
//	      - {name: name, type: string, max_len: 100}
//	    relationships:
//	      - {name: books, kind: to-many, target: Book, on_delete: cascade}
type YAMLSource struct {
	paths []string
}

type yamlDocument struct {
	Entities []*RawModel `yaml:"entities"`
}

// NewYAMLSource returns a source over the given document files.
func NewYAMLSource(paths ...string) *YAMLSource {
	return &YAMLSource{paths: paths}
}

// NewYAMLDir returns a source over every .yaml and .yml file directly
// under dir, in name order so model registration is deterministic.
func NewYAMLDir(dir string) (*YAMLSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("morph: read model directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext := filepath.Ext(entry.Name()); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return &YAMLSource{paths: paths}, nil
}

// Models parses every document and returns the concatenated model list.
func (s *YAMLSource) Models(ctx context.Context) ([]*RawModel, error) {
	var out []*RawModel
	for _, path := range s.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("morph: read model file: %w", err)
		}
		var doc yamlDocument
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("morph: parse model file %s: %w", path, err)
		}
		out = append(out, doc.Entities...)
	}
	return out, nil
}

// StaticSource serves an in-memory model list; handy for tests and for
// callers that build raw models programmatically.
type StaticSource []*RawModel

// Models returns the list as-is.
func (s StaticSource) Models(context.Context) ([]*RawModel, error) {
	return s, nil
}
