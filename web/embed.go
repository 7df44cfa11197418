// Package web holds the dashboard templates and browser assets.
package web

import "embed"

// TemplatesFS holds the login page, the dashboard page and its partials.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds the stylesheet and the chart/notification script.
//
//go:embed static/*
var StaticFS embed.FS
