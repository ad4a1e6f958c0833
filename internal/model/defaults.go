package model

import "time"

// Shared defaults used by the node, the adapters and the CLI.
const (
	DefaultQueryTimeout   = 30 * time.Second
	DefaultStartupTimeout = 60 * time.Second
	DefaultHeapSize       = "2g"
	DefaultMaxRows        = 10000
	DefaultMaxConcurrency = 4
)
