package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/config"
	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/registry"
)

// app holds what the subcommands share. The runtime is built on first use,
// after kong has populated the global flags.
type app struct {
	cli      *CLI
	registry *command.Registry
	stdout   io.Writer
	stderr   io.Writer

	once    sync.Once
	cfg     config.Config
	logger  flow.Logger
	runtime *registry.RuntimeContainer
	err     error
}

func newApp(cli *CLI, reg *command.Registry, stdout, stderr io.Writer) *app {
	return &app{cli: cli, registry: reg, stdout: stdout, stderr: stderr}
}

func (a *app) init(ctx context.Context) error {
	a.once.Do(func() {
		cfg := config.Default()
		if path := strings.TrimSpace(a.cli.Config); path != "" {
			loaded, err := config.Load(path)
			if err != nil {
				a.err = err
				return
			}
			cfg = loaded
		}
		if a.cli.LogLevel != "" {
			cfg.Logger.Level = a.cli.LogLevel
			if err := cfg.Validate(); err != nil {
				a.err = err
				return
			}
		}
		a.cfg = cfg
		a.logger = cfg.NewLogger(a.stderr)

		a.runtime, a.err = registry.NewRuntimeContainer(ctx, registry.RuntimeDependencies{
			Registry: a.registry,
			Config:   cfg,
			Logger:   a.logger,
		})
	})
	return a.err
}

func (a *app) Runtime(ctx context.Context) (*registry.RuntimeContainer, error) {
	if err := a.init(ctx); err != nil {
		return nil, err
	}
	return a.runtime, nil
}

// RunCLI dispatches code and prints the execution record. A FAILED command
// is reported as an error after its record is printed.
func (a *app) RunCLI(ctx context.Context, code string, params map[string]any) error {
	rt, err := a.Runtime(ctx)
	if err != nil {
		return err
	}
	exec, err := rt.Dispatcher().Dispatch(ctx, code, params)
	if err != nil {
		return err
	}
	if err := a.printJSON(struct {
		ID       string         `json:"id"`
		Attempts int            `json:"attempts"`
		Record   command.Record `json:"record"`
	}{exec.ID, exec.Attempts, exec.Record}); err != nil {
		return err
	}
	if exec.Status() == command.StatusFailed {
		if cerr := exec.Command.Err(); cerr != nil {
			return cerr
		}
		return errors.New("command failed", errors.CategoryCommand).
			WithTextCode("COMMAND_FAILED").
			WithMetadata(map[string]any{"code": code})
	}
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) close(ctx context.Context) {
	if a.runtime == nil {
		return
	}
	if err := a.runtime.Stop(ctx); err != nil && a.logger != nil {
		a.logger.Error("runtime shutdown failed: %v", err)
	}
}
