package main

import (
	"os"

	"github.com/aledsdavies/lockbook/cli"
)

func main() {
	os.Exit(cli.Execute())
}
