// ABOUTME: Reference agent for dispatch-gateway
// ABOUTME: Usage: dispatch-agent --server http://gateway:5000 --class 58.0.6 [--transport ws]

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/dispatch-gateway/internal/agent"
	"github.com/2389/dispatch-gateway/internal/dispatch"
)

const (
	transportLongPoll = "long-poll"
	transportSocket   = "ws"
)

type options struct {
	server    string
	class     string
	hostname  string
	transport string
	shell     string
	timeout   time.Duration
	retry     time.Duration
	logLevel  string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	defaultHost, _ := os.Hostname()

	var opts options
	fs := pflag.NewFlagSet("dispatch-agent", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.server, "server", "s", "http://127.0.0.1:5000", "gateway base URL")
	fs.StringVarP(&opts.class, "class", "c", "", "class ID to wait in (required)")
	fs.StringVar(&opts.hostname, "hostname", defaultHost, "hostname reported to the gateway")
	fs.StringVarP(&opts.transport, "transport", "t", transportLongPoll, "long-poll or ws")
	fs.StringVar(&opts.shell, "shell", "sh", "shell used to run commands")
	fs.DurationVar(&opts.timeout, "timeout", 60*time.Second, "per-command timeout")
	fs.DurationVar(&opts.retry, "retry", 5*time.Second, "delay before reattaching after an error")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.class == "" {
		return opts, errors.New("--class is required")
	}
	if opts.transport != transportLongPoll && opts.transport != transportSocket {
		return opts, fmt.Errorf("unknown transport %q (want %s or %s)", opts.transport, transportLongPoll, transportSocket)
	}
	if strings.TrimSpace(opts.hostname) == "" {
		return opts, errors.New("--hostname is required when the OS hostname is unavailable")
	}
	return opts, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	logger := newLogger(opts.logLevel)

	client, err := newGatewayClient(opts.server, opts.hostname, opts.class, logger)
	if err != nil {
		return err
	}
	a := &agentLoop{
		client:    client,
		runner:    &runner{shell: opts.shell, timeout: opts.timeout},
		transport: opts.transport,
		retry:     opts.retry,
		logger:    logger,
	}

	color.Cyan("dispatch-agent %s → %s (class %s, %s)", opts.hostname, opts.server, opts.class, opts.transport)
	return a.Run(ctx)
}

// agentLoop reattaches forever, running each command it receives.
type agentLoop struct {
	client    *gatewayClient
	runner    *runner
	transport string
	retry     time.Duration
	logger    *slog.Logger
}

func (a *agentLoop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, err := a.receive(ctx)
		switch {
		case err == nil:
			a.handle(ctx, cmd)
		case errors.Is(err, errNoCommand):
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			a.logger.Warn("attach failed, retrying", "error", err, "retry_in", a.retry)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.retry):
			}
		}
	}
}

func (a *agentLoop) receive(ctx context.Context) (agent.Command, error) {
	if a.transport == transportSocket {
		return a.client.Listen(ctx)
	}
	return a.client.Poll(ctx)
}

// handle runs one command and reports its output.
func (a *agentLoop) handle(ctx context.Context, cmd agent.Command) {
	a.logger.Info("received command", "class", cmd.Class, "cmd", cmd.Cmd)

	var output string
	var isError bool
	if newClass, ok := dispatch.ParseClassChange(cmd.Cmd); ok {
		a.client.SetClass(newClass)
		output = fmt.Sprintf("class changed to %s", newClass)
		a.logger.Info("class changed", "class", newClass)
	} else {
		output, isError = a.runner.Run(ctx, cmd.Cmd)
	}

	rep := outputReport{
		Command:   cmd.Cmd,
		Output:    output,
		IsError:   isError,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if a.transport == transportSocket {
		a.client.queue(rep)
		return
	}
	if err := a.client.Report(ctx, rep); err != nil {
		a.logger.Error("output not delivered", "cmd", cmd.Cmd, "error", err)
	}
}
