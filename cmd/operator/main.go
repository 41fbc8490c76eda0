// Package main provides the operator command: an autonomous browsing agent
// that can run a single goal from the terminal or serve runs over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

const version = "0.1.0"

// CLI is the command tree.
type CLI struct {
	Config string `help:"Path to a YAML config file." short:"c" type:"path" env:"OPERATOR_CONFIG"`

	Run     RunCmd     `cmd:"" help:"Run one goal to completion in the terminal."`
	Serve   ServeCmd   `cmd:"" help:"Serve the run API over HTTP."`
	Version VersionCmd `cmd:"" help:"Print the version."`
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	fmt.Printf("operator v%s\n", version)
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("operator"),
		kong.Description("Autonomous web-browsing agent."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
