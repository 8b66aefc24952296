// Package assets embeds the browser client. index.html is built by cmd/minify.
package assets

import _ "embed"

// Index is the minified single page client.
//
//go:embed index.html
var Index []byte

// Favicon is the site icon.
//
//go:embed favicon.svg
var Favicon []byte
