// Package openapi embeds the trail export API document for runtime
// distribution.
package openapi

import _ "embed"

// ExportAPISpec contains the OpenAPI document for the trail export HTTP API.
//
//go:embed openapi.yaml
var ExportAPISpec []byte

// Spec returns a defensive copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), ExportAPISpec...)
}
