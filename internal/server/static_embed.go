package server

import "embed"

// staticFiles is the landing page served outside every plugin mount.
//
//go:embed static
var staticFiles embed.FS
