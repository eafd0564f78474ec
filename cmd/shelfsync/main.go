package main

import (
	"os"

	"github.com/bissquit/shelfsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
