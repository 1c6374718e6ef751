// Package mcp serves the tool registry over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/samsaffron/relaychat/internal/tools"
)

// UserID is the user every MCP tool call runs as.
const UserID = "mcp"

// NewServer builds an MCP server offering every tool in reg.
func NewServer(reg *tools.Registry, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "relaychat",
		Version: version,
	}, nil)

	for _, spec := range reg.Specs() {
		name := spec.Name
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: spec.Description,
			InputSchema: spec.Schema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return callTool(ctx, reg, name, req)
		})
	}
	return server
}

func callTool(ctx context.Context, reg *tools.Registry, name string, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args []byte
	if req != nil && req.Params != nil {
		args = req.Params.Arguments
	}
	if string(args) == "null" {
		args = nil
	}
	out, err := reg.Execute(ctx, name, args, UserID)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			return nil, err
		}
		// Tool failures are results the caller can show, not protocol errors.
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		}, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out}},
	}, nil
}

// ServeStdio runs the server on stdin/stdout until ctx is done or the client
// disconnects.
func ServeStdio(ctx context.Context, reg *tools.Registry, version string) error {
	slog.Debug("starting mcp stdio server", "tools", reg.Names())
	if err := NewServer(reg, version).Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
