package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eleven-am/weft"
	"github.com/eleven-am/weft/internal/xjson"
)

const (
	ExitSuccess     = 0
	ExitUsage       = 1
	ExitRunFailed   = 2
	ExitInternalErr = 3
)

type Command string

const (
	CommandRun  Command = "run"
	CommandHash Command = "hash"
)

type Invocation struct {
	Command    Command
	GraphPath  string
	ConfigPath string
	Mode       weft.RunMode
	UserID     string
	Inputs     map[string]interface{}
	Timeout    time.Duration
}

type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usagef(format string, args ...interface{}) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// inputFlag collects repeated -input key=value pairs. Values that parse as
// JSON are kept as JSON.
type inputFlag map[string]interface{}

func (f inputFlag) String() string {
	return fmt.Sprintf("%d inputs", len(f))
}

func (f inputFlag) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("input %q is not key=value", raw)
	}

	var decoded interface{}
	if xjson.Valid([]byte(value)) && xjson.Unmarshal([]byte(value), &decoded) == nil {
		f[key] = decoded
		return nil
	}
	f[key] = value
	return nil
}

// ParseInvocation turns command line arguments into an Invocation.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, usagef("usage: weft run|hash -graph <file> [flags]")
	}

	inv := Invocation{Command: Command(strings.TrimSpace(args[0])), Inputs: make(map[string]interface{})}

	fs := flag.NewFlagSet("weft "+string(inv.Command), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&inv.GraphPath, "graph", "", "Graph file, JSON or YAML. Required.")

	switch inv.Command {
	case CommandRun:
		var mode string
		fs.StringVar(&inv.ConfigPath, "config", "", "YAML config file.")
		fs.StringVar(&mode, "mode", "", "Run mode: dev|marketplace.")
		fs.StringVar(&inv.UserID, "user", "", "Caller identity used for rate limiting.")
		fs.DurationVar(&inv.Timeout, "timeout", 0, "Run timeout.")
		fs.Var(inputFlag(inv.Inputs), "input", "Run input as key=value. Repeatable.")
		if err := fs.Parse(args[1:]); err != nil {
			return Invocation{}, usagef("%v", err)
		}
		inv.Mode = weft.RunMode(mode)
		if mode != "" && !inv.Mode.IsValid() {
			return Invocation{}, usagef("unknown mode %q", mode)
		}

	case CommandHash:
		if err := fs.Parse(args[1:]); err != nil {
			return Invocation{}, usagef("%v", err)
		}

	default:
		return Invocation{}, usagef("unknown command %q", args[0])
	}

	if fs.NArg() != 0 {
		return Invocation{}, usagef("unexpected arguments: %q", strings.Join(fs.Args(), " "))
	}
	if strings.TrimSpace(inv.GraphPath) == "" {
		return Invocation{}, usagef("-graph is required")
	}
	inv.GraphPath = filepath.Clean(inv.GraphPath)
	return inv, nil
}

// Execute runs inv, writing results to out. The returned code is the
// process exit status.
func Execute(ctx context.Context, inv Invocation, out io.Writer) (int, error) {
	data, err := os.ReadFile(inv.GraphPath)
	if err != nil {
		return ExitUsage, fmt.Errorf("failed to read graph: %w", err)
	}
	graph, err := weft.ParseGraph(data)
	if err != nil {
		return ExitUsage, err
	}

	switch inv.Command {
	case CommandHash:
		hash, err := weft.ComputeVersionHash(graph)
		if err != nil {
			return ExitInternalErr, err
		}
		fmt.Fprintln(out, hash)
		return ExitSuccess, nil

	case CommandRun:
		return run(ctx, inv, graph, out)
	}
	return ExitUsage, usagef("unknown command %q", inv.Command)
}

func run(ctx context.Context, inv Invocation, graph *weft.Graph, out io.Writer) (int, error) {
	config, err := weft.LoadConfig(inv.ConfigPath)
	if err != nil {
		return ExitUsage, err
	}

	manager, err := weft.New(config)
	if err != nil {
		return ExitInternalErr, err
	}
	defer manager.Close()

	result, runErr := manager.Execute(ctx, graph, weft.RunOptions{
		Mode:       inv.Mode,
		UserID:     inv.UserID,
		Inputs:     inv.Inputs,
		RunTimeout: inv.Timeout,
	})
	if result == nil {
		return ExitInternalErr, runErr
	}

	encoded, err := xjson.MarshalIndent(result, "", "  ")
	if err != nil {
		return ExitInternalErr, fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(out, string(encoded))

	if result.Status != weft.RunSucceeded {
		return ExitRunFailed, runErr
	}
	return ExitSuccess, nil
}

func exitCode(err error) int {
	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	return ExitInternalErr
}
