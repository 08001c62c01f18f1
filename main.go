package main

import (
	"context"
	"fmt"
	"os"

	"github.com/verdant-app/verdant/cmd"
	"github.com/verdant-app/verdant/internal/conf"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	settings := &conf.Settings{Version: version}
	if err := cmd.RootCommand(settings).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
