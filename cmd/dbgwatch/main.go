package main

import (
	"os"

	"github.com/dbgwatch/dbgwatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
