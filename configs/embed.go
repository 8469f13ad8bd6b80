// Package configs embeds the configuration templates written by
// `indexsync config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Defaults (config.NewConfig)
//  2. User config (~/.config/indexsync/config.yaml)
//  3. Project config (.indexsync.yaml)
//  4. Environment variables (INDEXSYNC_*)
package configs

import _ "embed"

// ProjectConfigTemplate is written to .indexsync.yaml in the project root.
// It holds entity bindings, analyzers and filters.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to ~/.config/indexsync/config.yaml. It holds
// machine settings such as the NATS URL and node id.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
