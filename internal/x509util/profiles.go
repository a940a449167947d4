package x509util

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/certengine/profiles"
)

// ErrUnknownProfile is returned for a profile name with no embedded preset.
var ErrUnknownProfile = errors.New("x509util: unknown profile")

// Profile is an embedded extension preset.
type Profile struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Extensions  ExtensionSpec `yaml:"extensions"`
}

// LoadProfile returns the embedded profile with the given name. Hyphens and
// underscores are interchangeable.
func LoadProfile(name string) (*Profile, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	data, err := profiles.FS.ReadFile(key + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}
	return &p, nil
}

// ProfileExtensions returns a fresh copy of a profile's extension spec, so
// callers may modify it.
func ProfileExtensions(name string) (*ExtensionSpec, error) {
	p, err := LoadProfile(name)
	if err != nil {
		return nil, err
	}
	return &p.Extensions, nil
}

// ProfileNames lists the embedded profiles, sorted.
func ProfileNames() []string {
	entries, err := fs.ReadDir(profiles.FS, ".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if path.Ext(e.Name()) == ".yaml" {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}
