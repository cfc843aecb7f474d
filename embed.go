package xaistudio

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the studio. These templates
// are organized in a directory structure that separates layouts, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets (JavaScript and CSS) served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
