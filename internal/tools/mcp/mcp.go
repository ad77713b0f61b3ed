// Package mcp loads external tool definitions from Model Context Protocol
// servers and adapts them into tools.ToolDef so the rest of the tool
// subsystem never has to know a given tool came from a subprocess on the
// other side of stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/friendbot/internal/tools"
)

// ServerConfig describes one MCP server to connect to at startup.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	// Tier is applied to every tool this server exposes. MCP tools default
	// to restricted since their implementation is opaque to this process.
	Tier tools.Tier
}

// Server is a live connection to one MCP server plus the names of the
// tools it registered, so it can be torn down cleanly.
type Server struct {
	Name      string
	client    *mcpclient.Client
	ToolNames []string
}

// Close shuts down the underlying client connection.
func (s *Server) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Connect starts cfg's server over stdio, performs the MCP handshake,
// lists its tools, and adapts each into a tools.ToolDef. Name collisions
// with registry are skipped, not fatal, since one misbehaving server
// should not prevent the rest of the tool set from loading.
func Connect(ctx context.Context, cfg ServerConfig, registry *tools.Registry) (*Server, error) {
	client, err := mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp: create client for %q: %w", cfg.Name, err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "friendbot", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp: initialize %q: %w", cfg.Name, err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp: list tools for %q: %w", cfg.Name, err)
	}

	tier := cfg.Tier
	if tier == "" {
		tier = tools.TierRestricted
	}

	srv := &Server{Name: cfg.Name, client: client}
	for _, t := range listed.Tools {
		def := adaptTool(cfg.Name, t, client, tier)
		if _, exists := registry.Get(def.Name); exists {
			continue
		}
		if err := registry.RegisterTool(def); err != nil {
			continue
		}
		srv.ToolNames = append(srv.ToolNames, def.Name)
	}

	if len(srv.ToolNames) > 0 {
		tools.RegisterToolGroup("mcp:"+cfg.Name, srv.ToolNames)
	}
	return srv, nil
}

func adaptTool(serverName string, t mcpgo.Tool, client *mcpclient.Client, tier tools.Tier) tools.ToolDef {
	name := fmt.Sprintf("mcp_%s_%s", serverName, t.GetName())
	schema, _ := toolInputSchema(t)

	return tools.ToolDef{
		Name:        name,
		Tier:        tier,
		Effects:     []tools.Effect{tools.EffectNetwork},
		Description: t.Description,
		InputSchema: schema,
		Execute: func(ctx context.Context, input map[string]any) (*tools.Result, error) {
			req := mcpgo.CallToolRequest{}
			req.Params.Name = t.GetName()
			req.Params.Arguments = input

			result, err := client.CallTool(ctx, req)
			if err != nil {
				return tools.ErrorResult(err.Error()).WithError(err), err
			}

			var sb strings.Builder
			for _, c := range result.Content {
				if text, ok := c.(mcpgo.TextContent); ok {
					sb.WriteString(text.Text)
				} else {
					fmt.Fprintf(&sb, "%v", c)
				}
			}
			if result.IsError {
				return tools.ErrorResult(sb.String()), nil
			}
			return tools.NewResult(sb.String()), nil
		},
	}
}

func toolInputSchema(t mcpgo.Tool) (map[string]any, error) {
	raw, err := t.InputSchema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
