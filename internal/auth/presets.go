package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RolePreset is a named custom-role template offered during team setup.
// Permissions are "action:subject" strings validated at load time.
type RolePreset struct {
	Name        string   `yaml:"name"`
	IsAdmin     bool     `yaml:"isAdmin"`
	Permissions []string `yaml:"permissions"`
}

type presetsFile struct {
	Presets []RolePreset `yaml:"presets"`
}

// LoadRolePresets reads and validates a role-presets YAML file.
func LoadRolePresets(path string) ([]RolePreset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role presets: %w", err)
	}
	var f presetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse role presets: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Presets))
	for _, p := range f.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("role preset with empty name")
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate role preset %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if _, err := ParseGrants(p.Permissions); err != nil {
			return nil, fmt.Errorf("role preset %q: %w", p.Name, err)
		}
	}
	return f.Presets, nil
}
