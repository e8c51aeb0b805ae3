package web

import "embed"

// staticFiles is the camera page: index.html plus its stylesheet and script.
//
//go:embed static/*
var staticFiles embed.FS
