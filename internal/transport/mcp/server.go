package mcp

import (
	"context"
	"io"
	stdlog "log"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sandevgo/percept/pkg/log"
)

// Server exposes Tools over MCP on a stdio pair.
type Server struct {
	mcp *server.MCPServer
	in  io.Reader
	out io.Writer
}

func NewServer(version string, tools *Tools, in io.Reader, out io.Writer) *Server {
	s := server.NewMCPServer("percept", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcpproto.NewTool("search_utterances",
		mcpproto.WithDescription("Full-text search over stored conversation utterances, newest conversations first."),
		mcpproto.WithString("query", mcpproto.Required(), mcpproto.Description("Words to search for")),
		mcpproto.WithNumber("limit", mcpproto.Description("Maximum hits, default 20")),
	), tools.SearchUtterances)

	s.AddTool(mcpproto.NewTool("get_entity",
		mcpproto.WithDescription("Look up a canonical entity by name and return it with its strongest relationships."),
		mcpproto.WithString("name", mcpproto.Required(), mcpproto.Description("Entity display name")),
		mcpproto.WithString("type", mcpproto.Description("Optional entity type filter"),
			mcpproto.Enum("person", "org", "project", "product", "location", "event")),
	), tools.GetEntity)

	s.AddTool(mcpproto.NewTool("list_relationships",
		mcpproto.WithDescription("List relationship edges, strongest first."),
		mcpproto.WithString("type", mcpproto.Description("Optional relation type"),
			mcpproto.Enum("mentioned_with", "works_on", "client_of")),
		mcpproto.WithNumber("min_weight", mcpproto.Description("Minimum edge weight")),
		mcpproto.WithNumber("limit", mcpproto.Description("Maximum edges, default 50")),
	), tools.ListRelationships)

	s.AddTool(mcpproto.NewTool("recent_conversations",
		mcpproto.WithDescription("Conversations that ended recently, with summaries and action items."),
		mcpproto.WithNumber("hours", mcpproto.Description("Look-back window in hours, default 24")),
		mcpproto.WithNumber("limit", mcpproto.Description("Maximum conversations, default 10")),
	), tools.RecentConversations)

	s.AddTool(mcpproto.NewTool("resolve_mention",
		mcpproto.WithDescription("Run the entity resolver on a name without writing anything."),
		mcpproto.WithString("text", mcpproto.Required(), mcpproto.Description("Mention surface text")),
		mcpproto.WithString("type", mcpproto.Description("Entity type, default person")),
	), tools.ResolveMention)

	s.AddTool(mcpproto.NewTool("status",
		mcpproto.WithDescription("Entity and relationship counts plus open sessions."),
	), tools.Status)

	return &Server{mcp: s, in: in, out: out}
}

func (s *Server) Start(ctx context.Context) error {
	ctx = log.WithComponent(ctx, "mcp")
	logger := log.FromCtx(ctx)
	logger.Info().Msg("serving mcp tools on stdio")

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(stdlog.New(logger, "", 0))
	if err := stdio.Listen(ctx, s.in, s.out); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
