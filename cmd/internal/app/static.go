package app

import _ "embed"

// indexHTML is the built-in single-page chat client.
//
//go:embed static/index.html
var indexHTML []byte
