package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	command "github.com/goliatone/go-acommand"
)

type runCmd struct {
	Code   string `arg:"" help:"Registered command code."`
	Params string `short:"p" help:"Command params as a JSON object." default:"{}"`
}

func (c *runCmd) Run(ctx context.Context, app *app) error {
	params, err := command.ParseParams(c.Params)
	if err != nil {
		return err
	}
	return app.RunCLI(ctx, c.Code, params)
}

type showCmd struct {
	ID string `arg:"" help:"Execution id printed by run."`
}

func (c *showCmd) Run(ctx context.Context, app *app) error {
	rt, err := app.Runtime(ctx)
	if err != nil {
		return err
	}
	cmd, err := rt.Dispatcher().Load(ctx, c.ID)
	if err != nil {
		return err
	}
	return app.printJSON(cmd.ToRecord())
}

type inspectCmd struct {
	File string `arg:"" help:"Record file, or - for stdin." default:"-"`
}

func (c *inspectCmd) Run(app *app) error {
	var (
		data []byte
		err  error
	)
	if c.File == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(c.File)
	}
	if err != nil {
		return err
	}

	cmd, err := app.registry.Rehydrate(data)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "code\t%s\n", cmd.Code())
	fmt.Fprintf(w, "status\t%s\n", cmd.Status())
	fmt.Fprintf(w, "created\t%s\n", cmd.CreatedAt().Format(command.TimeLayout))
	if d, ok := cmd.IdleTime(); ok {
		fmt.Fprintf(w, "idle\t%s\n", d)
	}
	if d, ok := cmd.Duration(); ok {
		fmt.Fprintf(w, "duration\t%s\n", d)
	}
	if cerr := cmd.Err(); cerr != nil {
		fmt.Fprintf(w, "error\t%s: %s\n", cerr.Title, cerr.Description)
	}
	if res := cmd.Result(); len(res) > 0 {
		fmt.Fprintf(w, "result\t%v\n", res)
	}
	return w.Flush()
}

type listCmd struct {
	Exposed bool `help:"Only list types marked as exposed."`
}

func (c *listCmd) Run(app *app) error {
	var types []*command.Type
	if c.Exposed {
		types = app.registry.Exposed()
	} else {
		for _, code := range app.registry.Codes() {
			t, err := app.registry.Get(code)
			if err != nil {
				return err
			}
			types = append(types, t)
		}
	}

	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tCLI\tTAGS\tDESCRIPTION")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.Code(),
			strings.Join(t.CLIConfig().Path, " "),
			strings.Join(t.Exposure().Tags, ","),
			t.Description(),
		)
	}
	return w.Flush()
}

type serveCmd struct {
	ShutdownTimeout time.Duration `name:"shutdown-timeout" help:"Time allowed for running jobs on shutdown." default:"10s"`
}

func (c *serveCmd) Run(ctx context.Context, app *app) error {
	rt, err := app.Runtime(ctx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	app.logger.Info("serving %d schedules", len(rt.Handles()))

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	app.logger.Info("shutting down")
	return rt.Stop(stopCtx)
}
