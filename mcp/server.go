// Package mcp exposes the job protocol as an MCP tool, letting any MCP
// host hire a paid agent through a single tool call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	agentpay "github.com/agentpay-labs/agentpay-go"
	agenthttp "github.com/agentpay-labs/agentpay-go/http"
)

// HireToolName is the MCP tool that submits and pays for a job.
const HireToolName = "hire_agent"

// Server wraps an MCP server with the hire_agent tool.
type Server struct {
	mcp       *mcpserver.MCPServer
	client    *agenthttp.Client
	requester string
	logger    *slog.Logger
}

// NewServer builds the MCP adapter. client pays and settles; requester is
// the payer address stamped on every job.
func NewServer(name, version string, client *agenthttp.Client, requester string, logger *slog.Logger) (*Server, error) {
	if client == nil {
		return nil, fmt.Errorf("mcp: job client is required")
	}
	if requester == "" {
		return nil, agentpay.ErrMissingAddress
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:       mcpserver.NewMCPServer(name, version),
		client:    client,
		requester: requester,
		logger:    logger,
	}

	tool := mcpproto.NewTool(
		HireToolName,
		mcpproto.WithDescription("Hire a worker agent: submit a job, pay its bill, and return the result"),
		mcpproto.WithString("endpoint", mcpproto.Required(), mcpproto.Description("Worker base URL")),
		mcpproto.WithString("task_type", mcpproto.Required(), mcpproto.Description("Kind of work requested")),
		mcpproto.WithString("input_json", mcpproto.Description("Task input as a JSON object")),
	)
	s.mcp.AddTool(tool, s.handleHire)

	return s, nil
}

func (s *Server) handleHire(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	args := req.GetArguments()
	endpoint, _ := args["endpoint"].(string)
	taskType, _ := args["task_type"].(string)
	if endpoint == "" || taskType == "" {
		return mcpproto.NewToolResultError("endpoint and task_type are required"), nil
	}

	input := map[string]any{}
	if raw, ok := args["input_json"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return mcpproto.NewToolResultError(fmt.Sprintf("input_json is not a JSON object: %v", err)), nil
		}
	}

	job := &agentpay.Job{
		JobID:     uuid.NewString(),
		Requester: s.requester,
		TaskType:  taskType,
		InputData: input,
	}
	s.logger.Info("hiring agent", "job_id", job.JobID, "endpoint", endpoint, "task_type", taskType)

	result, err := s.client.RequestJob(ctx, job, endpoint)
	if err != nil {
		s.logger.Warn("hire failed", "job_id", job.JobID, "err", err)
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return mcpproto.NewToolResultText(string(out)), nil
}

// Handler returns a streamable HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcp)
}

// Start serves the MCP server on addr.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

// MCPServer returns the underlying server for adding further tools.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}
