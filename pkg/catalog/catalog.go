// Package catalog holds the permission catalog: the immutable list of
// permission atoms, each tagged with a functional category.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed permissions.yaml
var defaultCatalogYAML []byte

// Permission is a single catalog entry.
type Permission struct {
	ID          int64  `json:"id" yaml:"-"`
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category" yaml:"category"`
	Description string `json:"description" yaml:"description"`
}

type catalogFile struct {
	Permissions []Permission `yaml:"permissions"`
}

// DefaultCatalog returns the permissions shipped with the binary.
func DefaultCatalog() ([]Permission, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// ParseCatalog decodes a YAML catalog document and checks that every entry
// has a unique name and a category.
func ParseCatalog(data []byte) ([]Permission, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse permission catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Permissions))
	for i, p := range file.Permissions {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("permission %d has no name", i)
		}
		if strings.TrimSpace(p.Category) == "" {
			return nil, fmt.Errorf("permission %s has no category", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate permission %s", name)
		}
		seen[name] = true
		file.Permissions[i].Name = name
	}

	return file.Permissions, nil
}
