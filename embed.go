// Package eightbchat embeds the page assets of the 8B Ai chat front end.
package eightbchat

import "embed"

// TemplateFS holds the page templates, split into the page layout, the page itself and the partials that
// are also rendered on their own for SSE updates.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS holds the script and stylesheet served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
