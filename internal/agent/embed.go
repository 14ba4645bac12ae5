package agent

import _ "embed"

// bootstrapScript is the persistent Python worker cortex-agent
// supervises, embedded at build time so the sandbox image needs no
// separate file mount for it.
//
//go:embed worker/bootstrap.py
var bootstrapScript string
