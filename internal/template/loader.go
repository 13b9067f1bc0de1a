// Package template loads stage template YAML files, validates them, and
// provides a fast-lookup registry with atomic pointer swap.
package template

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/licensahq/stageact/model"
)

// Loader scans directories for YAML template files, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new template Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// parses each into a TemplateDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.TemplateDefinition, error) {
	var defs []model.TemplateDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single YAML template file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (model.TemplateDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TemplateDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.TemplateDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.TemplateDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}
