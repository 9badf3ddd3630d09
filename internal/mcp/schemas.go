package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func pagingProperties(props map[string]interface{}) map[string]interface{} {
	props["page"] = map[string]interface{}{
		"type":        "integer",
		"description": "1-based page number",
		"default":     1,
		"minimum":     1,
	}
	props["page_size"] = map[string]interface{}{
		"type":        "integer",
		"description": "Posts per page (1-100)",
		"default":     20,
		"minimum":     1,
		"maximum":     100,
	}
	return props
}

func geoProperties(props map[string]interface{}) map[string]interface{} {
	props["latitude"] = map[string]interface{}{
		"type":        "number",
		"description": "Latitude of the search center (WGS84)",
		"minimum":     -90,
		"maximum":     90,
	}
	props["longitude"] = map[string]interface{}{
		"type":        "number",
		"description": "Longitude of the search center (WGS84)",
		"minimum":     -180,
		"maximum":     180,
	}
	props["radius_km"] = map[string]interface{}{
		"type":             "number",
		"description":      "Search radius in kilometers; requires latitude and longitude",
		"exclusiveMinimum": 0,
	}
	return props
}

func postTypeProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Only posts of this type",
		"enum":        []string{"Lost", "Found"},
	}
}

// listPostsTool returns the tool definition for list_posts
func listPostsTool() mcp.Tool {
	props := map[string]interface{}{
		"post_type": postTypeProperty(),
		"search_term": map[string]interface{}{
			"type":        "string",
			"description": "Case-insensitive substring matched against item name and description",
		},
		"author_id": map[string]interface{}{
			"type":        "string",
			"description": "Only posts by this author",
		},
	}
	return mcp.Tool{
		Name:        "list_posts",
		Description: "List lost and found posts, newest first, filtered by type, keyword, author and distance",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: geoProperties(pagingProperties(props)),
		},
	}
}

// searchPostsTool returns the tool definition for search_posts
func searchPostsTool() mcp.Tool {
	props := map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Natural language description of the item",
		},
		"post_type": postTypeProperty(),
	}
	return mcp.Tool{
		Name:        "search_posts",
		Description: "Rank posts by semantic similarity to a description of the item",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: geoProperties(pagingProperties(props)),
			Required:   []string{"query"},
		},
	}
}

// similarPostsTool returns the tool definition for similar_posts
func similarPostsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "similar_posts",
		Description: "Find posts of the opposite type that are similar to a post and near its place",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"post_id": map[string]interface{}{
					"type":        "string",
					"description": "ID of the source post",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of similar posts (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"post_id"},
		},
	}
}

// syncEmbeddingTool returns the tool definition for sync_embedding
func syncEmbeddingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_embedding",
		Description: "Recompute a post's content embedding if its item name or description changed",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"post_id": map[string]interface{}{
					"type":        "string",
					"description": "ID of the post to sync",
				},
			},
			Required: []string{"post_id"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Post counts by embedding status",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
