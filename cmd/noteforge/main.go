package main

import (
	"context"
	"fmt"
	"os"

	"noteforge/api/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "noteforge:", err)
		os.Exit(cli.ExitCode(err))
	}
}
