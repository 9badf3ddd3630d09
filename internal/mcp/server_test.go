package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostnfound/postsearch/internal/embedder/embeddertest"
	"github.com/lostnfound/postsearch/internal/searcher"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/internal/storage/memory"
	"github.com/lostnfound/postsearch/internal/storage/storagetest"
	"github.com/lostnfound/postsearch/internal/syncer"
	"github.com/lostnfound/postsearch/pkg/types"
)

func newTestServer(t *testing.T) (*Server, storage.Storage, *embeddertest.MockEmbedder) {
	t.Helper()
	store := memory.New()
	emb := embeddertest.New(8)
	srv := NewServer(store, searcher.NewSearcher(store, emb), syncer.New(store, emb), nil)
	return srv, store, emb
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultJSON[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	var out T
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code, mcpErr.Message)
}

func TestToolsRegistered(t *testing.T) {
	srv, _, _ := newTestServer(t)

	msg := srv.mcp.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))

	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"list_posts", "search_posts", "similar_posts", "sync_embedding", "get_status"}, names)
}

func TestListPostsTool(t *testing.T) {
	srv, store, _ := newTestServer(t)
	storagetest.Create(t, store, storagetest.Fixture{ID: "near", Minute: 1, Place: storagetest.At(10.0, 106.0)})
	storagetest.Create(t, store, storagetest.Fixture{ID: "far", Minute: 2, Place: storagetest.At(11.0, 106.0)})
	storagetest.Create(t, store, storagetest.Fixture{ID: "found", Type: types.PostTypeFound, Minute: 3})

	result, err := srv.handleListPosts(context.Background(), callRequest("list_posts", map[string]interface{}{
		"post_type": "Lost",
		"latitude":  10.0,
		"longitude": 106.0,
		"radius_km": 5.0,
	}))
	require.NoError(t, err)

	page := resultJSON[searcher.PagedResponse](t, result)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "near", page.Items[0].ID)
	assert.Equal(t, 1, page.TotalCount)
}

func TestListPostsToolInvalidParams(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	_, err := srv.handleListPosts(ctx, callRequest("list_posts", map[string]interface{}{"post_type": "Stolen"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = srv.handleListPosts(ctx, callRequest("list_posts", map[string]interface{}{"radius_km": 3.0}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = srv.handleListPosts(ctx, callRequest("list_posts", map[string]interface{}{"latitude": "north"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = srv.handleListPosts(ctx, callRequest("list_posts", map[string]interface{}{"page_size": 500.0}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestSyncThenSearchTools(t *testing.T) {
	srv, store, emb := newTestServer(t)
	ctx := context.Background()
	storagetest.Create(t, store, storagetest.Fixture{ID: "lost-1", ItemName: "Black Wallet", Description: "lost near park"})

	_, err := srv.handleSearchPosts(ctx, callRequest("search_posts", map[string]interface{}{"query": "  "}))
	requireMCPError(t, err, ErrorCodeEmptyQuery)

	result, err := srv.handleSyncEmbedding(ctx, callRequest("sync_embedding", map[string]interface{}{"post_id": "lost-1"}))
	require.NoError(t, err)
	synced := resultJSON[map[string]interface{}](t, result)
	assert.Equal(t, string(syncer.OutcomeUpdated), synced["outcome"])
	assert.Equal(t, string(types.EmbeddingReady), synced["embedding_status"])

	result, err = srv.handleSyncEmbedding(ctx, callRequest("sync_embedding", map[string]interface{}{"post_id": "lost-1"}))
	require.NoError(t, err)
	assert.Equal(t, string(syncer.OutcomeSkipped), resultJSON[map[string]interface{}](t, result)["outcome"])
	assert.Equal(t, 1, emb.Calls())

	result, err = srv.handleSearchPosts(ctx, callRequest("search_posts", map[string]interface{}{
		"query": "Black Wallet\nlost near park",
	}))
	require.NoError(t, err)
	page := resultJSON[searcher.PagedResponse](t, result)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Items[0].SimilarityScore)
	assert.InDelta(t, 1.0, *page.Items[0].SimilarityScore, 1e-6)
}

func TestSimilarPostsTool(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()
	storagetest.Create(t, store, storagetest.Fixture{ID: "pending"})

	_, err := srv.handleSimilarPosts(ctx, callRequest("similar_posts", map[string]interface{}{}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = srv.handleSimilarPosts(ctx, callRequest("similar_posts", map[string]interface{}{"post_id": "missing"}))
	requireMCPError(t, err, ErrorCodePostNotFound)

	result, err := srv.handleSimilarPosts(ctx, callRequest("similar_posts", map[string]interface{}{"post_id": "pending"}))
	require.NoError(t, err)
	resp := resultJSON[searcher.SimilarResponse](t, result)
	assert.False(t, resp.IsReady)
	assert.Equal(t, types.EmbeddingPending, resp.EmbeddingStatus)
	assert.Empty(t, resp.SimilarPosts)
}

func TestProviderErrorsMapToCodes(t *testing.T) {
	srv, store, emb := newTestServer(t)
	ctx := context.Background()
	storagetest.Create(t, store, storagetest.Fixture{ID: "p1"})

	emb.SetError(fmt.Errorf("%w: 503", types.ErrProvider))
	_, err := srv.handleSyncEmbedding(ctx, callRequest("sync_embedding", map[string]interface{}{"post_id": "p1"}))
	requireMCPError(t, err, ErrorCodeProviderFailed)

	emb.SetError(fmt.Errorf("%w: slow", types.ErrProviderTimeout))
	_, err = srv.handleSearchPosts(ctx, callRequest("search_posts", map[string]interface{}{"query": "keys"}))
	requireMCPError(t, err, ErrorCodeProviderTimeout)
}

type statusResponse struct {
	TotalPosts   int            `json:"total_posts"`
	DeletedPosts int            `json:"deleted_posts"`
	ByStatus     map[string]int `json:"by_status"`
}

func TestGetStatusTool(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()
	storagetest.Create(t, store, storagetest.Fixture{ID: "a"})
	storagetest.Create(t, store, storagetest.Fixture{ID: "b", Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0}})
	require.NoError(t, store.SoftDeletePost(ctx, "a"))

	result, err := srv.handleGetStatus(ctx, callRequest("get_status", nil))
	require.NoError(t, err)

	status := resultJSON[statusResponse](t, result)
	assert.Equal(t, 1, status.DeletedPosts)
	assert.Equal(t, 1, status.ByStatus["Ready"])
	assert.Contains(t, status.ByStatus, "Failed")
}

func TestArgumentsRejectsNonObject(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = []interface{}{"x"}
	_, err := arguments(req)
	requireMCPError(t, err, ErrorCodeInvalidParams)
}
