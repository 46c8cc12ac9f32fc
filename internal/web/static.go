package web

import (
	"embed"
)

// staticFiles holds the embedded control panel.
//
//go:embed static/*
var staticFiles embed.FS
