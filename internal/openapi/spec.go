// Package openapi embeds the relay's OpenAPI document.
package openapi

import (
	_ "embed"

	"sigs.k8s.io/yaml"
)

//go:embed spec.yaml
var specYAML []byte

// JSON returns the document converted to JSON, as served on /openapi.
func JSON() ([]byte, error) {
	return yaml.YAMLToJSON(specYAML)
}

// YAML returns the document as written.
func YAML() []byte {
	return specYAML
}
