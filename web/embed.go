// Package web embeds the static REPL host page so the bridge is
// self-contained: the browser session always has a reachable target.
package web

import _ "embed"

// IndexHTML is the page hosting the <strudel-editor> component.
//
//go:embed index.html
var IndexHTML []byte
