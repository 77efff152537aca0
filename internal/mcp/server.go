// Package mcp exposes the risk and interaction services as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"math"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/service"
)

// Tool names.
const (
	ToolAssessRisk        = "assess_risk"
	ToolCheckInteractions = "check_interactions"
	ToolModelInfo         = "model_info"
)

// Server represents the CDSS MCP server.
type Server struct {
	mcpServer    *mcp.Server
	risk         *service.RiskService
	interactions *service.InteractionService
	limiter      *rate.Limiter
	timeout      func(context.Context) (context.Context, context.CancelFunc)
	logger       *logrus.Logger
}

// NewServer registers the tools against the given services. A zero
// RateLimit disables limiting.
func NewServer(cfg domain.MCPConfig, risk *service.RiskService, interactions *service.InteractionService, logger *logrus.Logger) *Server {
	name := cfg.ServerName
	if name == "" {
		name = "cdss-mcp-server"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "v0.1.0"
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = int(math.Max(1, math.Ceil(cfg.RateLimit)))
	}

	s := &Server{
		mcpServer:    mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		risk:         risk,
		interactions: interactions,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger,
	}
	s.timeout = func(ctx context.Context) (context.Context, context.CancelFunc) {
		if cfg.RequestTimeout <= 0 {
			return context.WithCancel(ctx)
		}
		return context.WithTimeout(ctx, cfg.RequestTimeout)
	}

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAssessRisk,
		Description: "Predict the adverse-event probability for one patient, with its risk tier, " +
			"per-feature contributions that sum to the prediction minus the baseline, and a point-based clinical summary.",
	}, s.handleAssessRisk)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolCheckInteractions,
		Description: "Find known pairwise interactions among a medication list, most severe first. Unknown drug names are reported as warnings.",
	}, s.handleCheckInteractions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolModelInfo,
		Description: "Describe the loaded model artifact and interaction corpus.",
	}, s.handleModelInfo)

	s.logger.WithField("tool_count", 3).Info("Registered MCP tools")
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcpServer }

// Run serves a single session over t until the client disconnects or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("Starting CDSS MCP server")
	if err := s.mcpServer.Run(ctx, t); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// RunStdio serves over stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
