package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcptransport "github.com/sandevgo/percept/internal/transport/mcp"
	"github.com/sandevgo/percept/pkg/log"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the query tools over MCP on stdio",
	Long: `Starts an MCP server on stdin/stdout exposing utterance search, entity
lookup, relationships, recent conversations and mention resolution.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		tools := mcptransport.NewTools(mcptransport.Deps{
			Conversations: a.conversations,
			Entities:      a.catalog,
			Graph:         a.graph,
			Resolver:      a.resolver(),
		})
		server := mcptransport.NewServer(version, tools, os.Stdin, os.Stdout)

		if err := server.Start(ctx); err != nil {
			log.FromCtx(ctx).Error().Err(err).Msg("mcp server stopped")
			return err
		}
		return server.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
