// Package utils holds small helpers shared across the repo that are
// too slight to justify a package of their own.
package utils

// Build metadata, overridden at link time via -ldflags.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)
