// Package configs provides embedded configuration templates for local-rag.
//
// Templates are embedded at build time with //go:embed, so they are
// available in every distribution regardless of how the binary was
// installed. `local-rag config init` writes ConfigTemplate to disk as
// a starting point; internal/config applies defaults, then the file,
// then environment overrides.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `local-rag config init`.
//
//go:embed config.example.yaml
var ConfigTemplate string
