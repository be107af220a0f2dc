// Package main provides the entry point for the tempo CLI.
package main

import (
	"github.com/colthorp/tempo-cli-go/internal/cli"
)

func main() {
	cli.Execute()
}
