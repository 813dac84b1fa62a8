package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wtfpos/posd/internal/daemon"
	"github.com/wtfpos/posd/internal/terminal"
	"go.uber.org/fx"
)

func main() {
	terminalFlag := flag.String("terminal", "", "terminal name (overrides POS_TERMINAL and config default)")
	flag.Parse()

	name := terminal.Resolve(*terminalFlag)
	if err := terminal.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Terminal: name}),
	)

	app.Run()
}
