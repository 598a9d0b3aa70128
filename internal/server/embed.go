package server

import (
	_ "embed"
)

//go:embed openapi.yaml
var openapiSpec []byte

//go:embed index.html
var indexHTML []byte

// OpenAPISpec は埋め込まれたOpenAPI定義を返す
func OpenAPISpec() []byte {
	return openapiSpec
}
