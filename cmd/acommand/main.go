// Command acommand runs, schedules and inspects registered commands from the
// command line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/registry"
)

type CLI struct {
	Config   string `short:"c" help:"Path to a YAML config file." type:"path"`
	LogLevel string `name:"log-level" help:"Override the configured log level."`

	Run     runCmd     `cmd:"" help:"Dispatch a registered command by code."`
	Show    showCmd    `cmd:"" help:"Print a stored execution record."`
	Inspect inspectCmd `cmd:"" help:"Rehydrate a serialized command record."`
	List    listCmd    `cmd:"" help:"List registered command types."`
	Serve   serveCmd   `cmd:"" help:"Run the configured schedules until interrupted."`
}

func main() {
	registry.MustRegisterType(builtinTypes()...)

	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cli CLI
	app := newApp(&cli, registry.Default(), stdout, stderr)
	defer app.close(ctx)

	parser, err := newParser(ctx, &cli, app, stdout, stderr)
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run()
}

func newParser(ctx context.Context, cli *CLI, app *app, stdout, stderr io.Writer) (*kong.Kong, error) {
	tree, err := app.registry.CLI("exec")
	if err != nil {
		return nil, err
	}
	execOpts, err := tree.Options()
	if err != nil {
		return nil, err
	}

	opts := []kong.Option{
		kong.Name("acommand"),
		kong.Description("Run, schedule and inspect commands."),
		kong.Writers(stdout, stderr),
		kong.Bind(app),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindTo(app, (*command.CLIRunner)(nil)),
	}
	opts = append(opts, execOpts...)
	return kong.New(cli, opts...)
}
