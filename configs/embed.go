// Package configs embeds the example configuration written by
// `rehydrate config init`.
//
// Layering (see internal/config Load):
//  1. defaults from config.NewConfig
//  2. user config ($XDG_CONFIG_HOME/rehydrate/config.yaml)
//  3. project config (.rehydrate.yaml)
//  4. REHYDRATE_* environment variables
package configs

import _ "embed"

// ExampleConfig is the commented configuration template.
//
//go:embed rehydrate.example.yaml
var ExampleConfig string
