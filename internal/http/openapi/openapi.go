// Package openapi embeds the OpenAPI YAML specification.
package openapi

import _ "embed"

// YAML is the OpenAPI document of the status API.
//
//go:embed openapi.yaml
var YAML []byte
