package main

import "github.com/sandevgo/percept/internal/core"

// version can be overridden at build time with -ldflags "-X main.version=...".
var version = core.AppVersion

func main() {
	CustomizeHelp(rootCmd)
	Execute()
}
