package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/scope"
)

// GreetMessage is the params of the greet command.
type GreetMessage struct {
	Name     string `json:"name"`
	Greeting string `json:"greeting,omitempty"`
}

func (GreetMessage) Type() string { return "greet" }

func (m GreetMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

type sleepParams struct {
	Duration string `json:"duration"`
}

func builtinTypes() []*command.Type {
	return []*command.Type{
		command.NewType("noop",
			command.WithDescription("Does nothing and completes."),
			command.WithExposure(command.Exposure{Expose: true, Tags: []string{"debug"}}),
		),
		command.NewType("echo",
			command.WithDescription("Completes with its params as result."),
			command.WithExposure(command.Exposure{Expose: true, Tags: []string{"debug"}}),
			command.OnExecute(func(_ context.Context, cmd *command.Command, _ *scope.Scope) (map[string]any, error) {
				return cmd.Params(), nil
			}),
		),
		command.NewType("fail",
			command.WithDescription("Fails with the message param."),
			command.WithExposure(command.Exposure{Expose: true, Tags: []string{"debug"}}),
			command.OnExecute(func(_ context.Context, cmd *command.Command, _ *scope.Scope) (map[string]any, error) {
				msg, _ := cmd.Param("message")
				if s, ok := msg.(string); ok && s != "" {
					return nil, fmt.Errorf("%s", s)
				}
				return nil, fmt.Errorf("command failed on request")
			}),
		),
		command.NewType("greet",
			command.WithDescription("Builds a greeting for name."),
			command.WithCLI(command.CLIConfig{Path: []string{"demo", "greet"}, Aliases: []string{"hello"}}),
			command.WithParamsValidator(command.ValidateMessage[GreetMessage]()),
			command.OnExecute(func(_ context.Context, cmd *command.Command, _ *scope.Scope) (map[string]any, error) {
				msg, err := command.ParamsAs[GreetMessage](cmd)
				if err != nil {
					return nil, err
				}
				greeting := msg.Greeting
				if greeting == "" {
					greeting = "hello"
				}
				return map[string]any{"message": greeting + " " + msg.Name}, nil
			}),
		),
		command.NewType("sleep",
			command.WithDescription("Waits for duration, honoring cancellation."),
			command.WithCLI(command.CLIConfig{Path: []string{"demo", "sleep"}}),
			command.WithExposure(command.Exposure{Expose: true, Tags: []string{"ops"}}),
			command.OnExecute(func(ctx context.Context, cmd *command.Command, _ *scope.Scope) (map[string]any, error) {
				p, err := command.ParamsAs[sleepParams](cmd)
				if err != nil {
					return nil, err
				}
				d := time.Second
				if p.Duration != "" {
					if d, err = time.ParseDuration(p.Duration); err != nil {
						return nil, err
					}
				}
				select {
				case <-time.After(d):
					return map[string]any{"slept": d.String()}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}),
		),
	}
}
