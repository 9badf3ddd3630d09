package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/lostnfound/postsearch/internal/searcher"
	"github.com/lostnfound/postsearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodePostNotFound    = -32001 // Post does not exist or was deleted
	ErrorCodeProviderFailed  = -32002 // Embedding provider returned an error
	ErrorCodeProviderTimeout = -32003 // Embedding provider did not answer in time
	ErrorCodeEmptyQuery      = -32004 // Query parameter is empty
)

// handleListPosts handles the list_posts tool invocation
func (s *Server) handleListPosts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	postType, err := types.ParsePostType(getStringDefault(args, "post_type", ""))
	if err != nil {
		return nil, invalidParam("post_type", err)
	}
	geo, err := getGeo(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.ListPosts(ctx, searcher.ListRequest{
		Page:       getIntDefault(args, "page", 0),
		PageSize:   getIntDefault(args, "page_size", 0),
		PostType:   postType,
		SearchTerm: getStringDefault(args, "search_term", ""),
		AuthorID:   getStringDefault(args, "author_id", ""),
		Geo:        geo,
	})
	if err != nil {
		return nil, s.toMCPError("list posts", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleSearchPosts handles the search_posts tool invocation
func (s *Server) handleSearchPosts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	postType, err := types.ParsePostType(getStringDefault(args, "post_type", ""))
	if err != nil {
		return nil, invalidParam("post_type", err)
	}
	geo, err := getGeo(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.SearchSemantic(ctx, searcher.SemanticRequest{
		SearchText: query,
		Page:       getIntDefault(args, "page", 0),
		PageSize:   getIntDefault(args, "page_size", 0),
		PostType:   postType,
		Geo:        geo,
	})
	if err != nil {
		return nil, s.toMCPError("search posts", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleSimilarPosts handles the similar_posts tool invocation
func (s *Server) handleSimilarPosts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	postID, err := requirePostID(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.GetSimilarPosts(ctx, postID, getIntDefault(args, "limit", 0))
	if err != nil {
		return nil, s.toMCPError("similar posts", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleSyncEmbedding handles the sync_embedding tool invocation
func (s *Server) handleSyncEmbedding(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	postID, err := requirePostID(args)
	if err != nil {
		return nil, err
	}

	result, err := s.syncer.SyncEmbedding(ctx, postID)
	if err != nil {
		return nil, s.toMCPError("sync embedding", err)
	}

	response := map[string]interface{}{
		"post_id":          result.PostID,
		"outcome":          result.Outcome,
		"embedding_status": result.Status,
		"content_hash":     result.ContentHash,
		"duration_ms":      result.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.storage.Stats(ctx)
	if err != nil {
		return nil, s.toMCPError("get status", err)
	}

	byStatus := map[string]int{}
	for _, status := range []types.EmbeddingStatus{
		types.EmbeddingPending, types.EmbeddingProcessing, types.EmbeddingReady, types.EmbeddingFailed,
	} {
		byStatus[string(status)] = stats.ByStatus[status]
	}

	response := map[string]interface{}{
		"total_posts":   stats.TotalPosts,
		"deleted_posts": stats.DeletedPosts,
		"by_status":     byStatus,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError maps the domain error taxonomy onto MCP error codes
func (s *Server) toMCPError(op string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrInvalidArgument):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodePostNotFound, "post not found", data)
	case errors.Is(err, types.ErrProviderTimeout):
		return newMCPError(ErrorCodeProviderTimeout, "embedding provider timed out", data)
	case errors.Is(err, types.ErrProvider):
		return newMCPError(ErrorCodeProviderFailed, "embedding provider failed", data)
	}
	s.logger.Error(op+" failed", zap.Error(err))
	return newMCPError(ErrorCodeInternalError, op+" failed", data)
}

func invalidParam(param string, err error) error {
	return newMCPError(ErrorCodeInvalidParams, "invalid "+param, map[string]interface{}{
		"param":  param,
		"reason": err.Error(),
	})
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func requirePostID(args map[string]interface{}) (string, error) {
	postID := strings.TrimSpace(getStringDefault(args, "post_id", ""))
	if postID == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "post_id parameter is required", map[string]interface{}{
			"param":  "post_id",
			"reason": "missing or empty",
		})
	}
	return postID, nil
}

// getGeo reads the optional search center. Range checks are left to the searcher.
func getGeo(args map[string]interface{}) (searcher.GeoParams, error) {
	var geo searcher.GeoParams
	for key, dst := range map[string]**float64{
		"latitude":  &geo.Latitude,
		"longitude": &geo.Longitude,
		"radius_km": &geo.RadiusKm,
	} {
		raw, ok := args[key]
		if !ok || raw == nil {
			continue
		}
		f, ok := raw.(float64)
		if !ok {
			return geo, invalidParam(key, fmt.Errorf("must be a number"))
		}
		*dst = &f
	}
	return geo, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
