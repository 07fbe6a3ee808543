// Package configs provides the embedded configuration template for
// vaultmcp. Embedding at build time keeps `vaultmcp config init`
// working in every distribution, source builds and binary releases
// alike.
package configs

import _ "embed"

// Template is the starter vaultmcp.yaml written by `vaultmcp config
// init`. Connection secrets (QDRANT_API_KEY, OPENAI_API_KEY) belong in
// the environment, not in this file.
//
//go:embed vaultmcp.example.yaml
var Template string
