// Package profiles provides the embedded extension presets.
//
// Each YAML file holds one profile: a name, a description and an
// extensions block in the same shape as the issuer configuration.
package profiles

import "embed"

// FS contains the embedded profile YAML files.
//
//go:embed *.yaml
var FS embed.FS
