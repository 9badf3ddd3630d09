package mcp

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lostnfound/postsearch/internal/searcher"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/internal/syncer"
)

const (
	// ServerName is the MCP server name
	ServerName = "postsearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Syncer runs an embedding sync for one post
type Syncer interface {
	SyncEmbedding(ctx context.Context, postID string) (*syncer.Result, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	searcher *searcher.Searcher
	syncer   Syncer
	logger   *zap.Logger
}

// NewServer creates an MCP server over already wired components. The
// caller owns them and closes the store.
func NewServer(store storage.Storage, srch *searcher.Searcher, s Syncer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	srv := &Server{
		mcp:      mcpServer,
		storage:  store,
		searcher: srch,
		syncer:   s,
		logger:   logger,
	}
	srv.registerTools()
	return srv
}

// Serve speaks MCP over in/out (normally stdin/stdout) until ctx is done
// or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	s.logger.Info("mcp server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(listPostsTool(), s.handleListPosts)
	s.mcp.AddTool(searchPostsTool(), s.handleSearchPosts)
	s.mcp.AddTool(similarPostsTool(), s.handleSimilarPosts)
	s.mcp.AddTool(syncEmbeddingTool(), s.handleSyncEmbedding)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
