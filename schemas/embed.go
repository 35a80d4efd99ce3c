// Package schemas embeds the versioned JSON schemas for persisted proof artifacts.
package schemas

import "embed"

//go:embed v1/*.schema.json
var Files embed.FS
