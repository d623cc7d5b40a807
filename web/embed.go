// Package web holds the embedded HTML templates and browser assets.
package web

import "embed"

var (
	//go:embed templates/*.html
	TemplatesFS embed.FS

	//go:embed static/*
	StaticFS embed.FS
)
