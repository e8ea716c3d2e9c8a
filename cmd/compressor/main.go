// compressor attaches the game-server packet dataplane to an interface
// and keeps it attached until signalled.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-compressor"
	"github.com/frobware/go-compressor/cmd/compressor/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c, cli.KongOptions()...)

	if err := ctx.Run(&c); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(compressor.ExitCode(err))
	}
}
