// Package mcp implements a Model Context Protocol (MCP) server over the
// post search and embedding sync services.
//
// The server exposes five tools to MCP clients:
//   - list_posts: newest-first listing filtered by type, keyword, author and radius
//   - search_posts: semantic search over posts with a Ready embedding
//   - similar_posts: posts of the opposite type similar to a post and near its place
//   - sync_embedding: recompute a post's embedding when its content changed
//   - get_status: post counts by embedding status
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr since stdout carries the protocol.
//
// # Tool: search_posts
//
//	Request:
//	{
//	  "name": "search_posts",
//	  "arguments": {
//	    "query": "black leather wallet",
//	    "post_type": "Found",
//	    "latitude": 10.77,
//	    "longitude": 106.70,
//	    "radius_km": 5
//	  }
//	}
//
//	Response:
//	{
//	  "items": [{"id": "…", "item_name": "Wallet", "similarity_score": 0.82, "distance_km": 1.4}],
//	  "page": 1,
//	  "page_size": 20,
//	  "total_count": 1,
//	  "total_pages": 1,
//	  "has_next_page": false,
//	  "has_previous_page": false
//	}
//
// # Tool: similar_posts
//
// While the source post has no Ready embedding the response carries
// "is_ready": false and an empty list instead of an error.
//
// # Error Handling
//
// Tool errors are returned as MCPError with JSON-RPC codes:
//   - -32602: invalid parameters (paging, geo, post type)
//   - -32603: internal error
//   - -32001: post not found
//   - -32002: embedding provider failed
//   - -32003: embedding provider timed out
//   - -32004: empty query
package mcp
