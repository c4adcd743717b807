package engine

import "time"

const (
	// DefaultCheckTimeout is the max time checks get to complete.
	DefaultCheckTimeout = 5 * time.Second
	// DefaultCallTimeout bounds a single collaborator call inside a check.
	DefaultCallTimeout = 2 * time.Second
	// DefaultLawConcurrency bounds concurrent legal lookups per plan.
	DefaultLawConcurrency = 4
)
