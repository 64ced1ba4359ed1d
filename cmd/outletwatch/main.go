package main

import (
	"context"
	"fmt"
	"os"

	"github.com/seantiz/outletwatch/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Execute(context.Background(), version, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "outletwatch:", err)
		os.Exit(1)
	}
}
