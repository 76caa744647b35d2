package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/providers/llm"
	"github.com/sandevgo/percept/internal/service/command"
	"github.com/sandevgo/percept/internal/service/entity"
	"github.com/sandevgo/percept/internal/service/intent"
	"github.com/sandevgo/percept/internal/service/maintenance"
	"github.com/sandevgo/percept/internal/service/pipeline"
	"github.com/sandevgo/percept/internal/service/session"
	"github.com/sandevgo/percept/internal/service/speaker"
	"github.com/sandevgo/percept/internal/service/summary"
	"github.com/sandevgo/percept/internal/transport/ndjson"
	"github.com/sandevgo/percept/internal/transport/telegram"
	"github.com/sandevgo/percept/pkg/log"
	"github.com/sandevgo/percept/pkg/srv"
)

const shutdownTimeout = 30 * time.Second

type startOptions struct {
	input  string
	socket string
	events string
}

var startOpts startOptions

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the segment pipeline",
	Long: `Reads NDJSON transcript segments from stdin or a unix socket, runs the
command and conversation pipeline, and writes NDJSON events to stdout or a file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// logger setup
		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		logger := log.FromCtx(ctx)
		logger.Info().Str("version", version).Msg("starting percept")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}

		services, err := NewServices(ctx, a, startOpts, stop)
		if err != nil {
			a.Close()
			return err
		}

		srv.StartServices(ctx, services, stop)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		srv.ShutdownServices(ctx, shutdownCtx, services)

		logger.Info().Msg("percept has been shut down gracefully")
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&startOpts.input, "input", "", `segment stream to read, "-" for stdin`)
	startCmd.Flags().StringVar(&startOpts.socket, "socket", "", "unix socket to accept segment streams on")
	startCmd.Flags().StringVar(&startOpts.events, "events", "", "append events to this file instead of stdout")
	rootCmd.AddCommand(startCmd)
}

// NewServices wires the pipeline. Services stop in reverse order, so inputs stop first,
// then the buffer closes open conversations while every sink is still running.
func NewServices(ctx context.Context, a *app, opts startOptions, stop context.CancelFunc) ([]srv.Service, error) {
	services := []srv.Service{
		srv.NewCleanup("database", a.Close),
		a.settings,
	}

	ai, err := llm.NewProvider(ctx, config.NewLLMConfig(ctx))
	if err != nil {
		return nil, err
	}

	// Sinks
	events, closeEvents, err := openEvents(opts.events, a.cfg.EventsPath)
	if err != nil {
		return nil, err
	}
	services = append(services, srv.NewCleanup("events", closeEvents))
	sinks := []core.EventSink{ndjson.NewWriter(events)}

	if a.cfg.IsTelegramSelected() {
		notifier, err := telegram.NewNotifier(ctx, config.NewTelegramConfig(ctx), a.actions, a.conversations)
		if err != nil {
			return nil, err
		}
		services = append(services, notifier)
		sinks = append(sinks, notifier)
	}

	// Maintenance
	services = append(services, maintenance.New(a.settings, a.graph, a.conversations))

	// Pipeline
	lastSpeakers := command.NewLastSpeakers(a.settings)
	registry := speaker.NewRegistry(a.speakers, a.settings)

	p := pipeline.New(pipeline.Deps{
		Settings:      a.settings,
		Extractor:     command.NewExtractor(a.settings, lastSpeakers),
		Speakers:      registry,
		Parser:        intent.NewParser(a.contacts, ai, a.settings),
		Mentions:      entity.NewExtractor(ai, a.settings),
		Resolver:      a.resolver(),
		Catalog:       a.catalog,
		Graph:         a.graph,
		Summarizer:    summary.New(ai, a.settings),
		Conversations: a.conversations,
		Actions:       a.actions,
		Sinks:         sinks,
	})

	buffer := session.NewBuffer(a.settings, p.HandleCommand, p.HandleConversation)
	p.Router = command.New(command.NewCommands(lastSpeakers, registry, buffer))
	services = append(services, buffer)

	// Inputs
	reader := ndjson.NewReader(buffer)
	input, socket := opts.input, opts.socket
	if input == "" && socket == "" {
		input = "-"
	}
	if socket != "" {
		services = append(services, ndjson.NewSocketSource(socket, reader))
	}
	switch input {
	case "":
	case "-":
		services = append(services, ndjson.NewStreamSource(os.Stdin, "stdin", reader, stop))
	default:
		f, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		services = append(services,
			srv.NewCleanup("input", f.Close),
			ndjson.NewStreamSource(f, input, reader, stop),
		)
	}

	return services, nil
}

// openEvents picks the event destination: the flag, then PERCEPT_EVENTS_PATH, then stdout.
func openEvents(flagPath, envPath string) (io.Writer, func() error, error) {
	path := flagPath
	if path == "" {
		path = envPath
	}
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
