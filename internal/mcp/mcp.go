// Package mcp exposes the guardrail's operator surface over the Model
// Context Protocol, so MCP-compatible agents can inspect pipeline health,
// recent findings and resilience verdicts.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mamori-ai/mamori/internal/pipeline"
	"github.com/mamori-ai/mamori/internal/storage"
)

// Server wraps the MCP server with the guardrail's service layer.
// DB and Reports are optional; tools backed by a missing store report that
// instead of failing.
type Server struct {
	mcpServer *mcpserver.MCPServer
	pipeline  *pipeline.Pipeline
	db        *storage.DB
	reports   *storage.ReportStore
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(p *pipeline.Pipeline, db *storage.DB, reports *storage.ReportStore, version string, logger *slog.Logger) *Server {
	s := &Server{
		pipeline: p,
		db:       db,
		reports:  reports,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mamori",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// guardrail_status — live pipeline health snapshot.
	s.mcpServer.AddTool(
		mcplib.NewTool("guardrail_status",
			mcplib.WithDescription("Current guardrail pipeline health: batcher depth, limiter load, degraded span and budget counters, analysis latency"),
		),
		s.handleStatus,
	)

	// recent_findings — archived high-risk spans with their findings.
	s.mcpServer.AddTool(
		mcplib.NewTool("recent_findings",
			mcplib.WithDescription("Recent spans at or above a risk score threshold, with their vulnerability findings"),
			mcplib.WithNumber("min_risk", mcplib.Description("Minimum risk score 0-10 (default 7)")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum spans to return (default 20)")),
		),
		s.handleRecentFindings,
	)

	// resilience_report — latest fault-injection verdict.
	s.mcpServer.AddTool(
		mcplib.NewTool("resilience_report",
			mcplib.WithDescription("Latest resilience report: weighted score across mutation, chaos replay, span mutation, gork and error handling categories"),
		),
		s.handleResilienceReport,
	)
}

func (s *Server) handleStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	stats := s.pipeline.Stats()
	data, err := json.MarshalIndent(map[string]any{
		"degraded_spans":      stats.DegradedSpans,
		"budget_exceeded":     stats.BudgetExceeded,
		"token_storms":        stats.TokenStorms,
		"limiter_in_flight":   stats.LimiterInFlight,
		"limiter_rejected":    stats.LimiterRejected,
		"batcher_depth":       stats.BatcherDepth,
		"analysis_latency_ms": stats.AnalysisLatencyMS,
	}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal status: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func (s *Server) handleRecentFindings(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.db == nil {
		return errorResult("span archive not configured"), nil
	}

	minRisk := request.GetFloat("min_risk", 7)
	limit := request.GetInt("limit", 20)

	spans, err := s.db.HighRiskSpans(ctx, minRisk, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}

	data, _ := json.MarshalIndent(map[string]any{
		"spans": spans,
		"count": len(spans),
	}, "", "  ")
	return textResult(string(data)), nil
}

func (s *Server) handleResilienceReport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.reports == nil {
		return errorResult("report store not configured"), nil
	}

	report, err := s.reports.LatestReport()
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult("no resilience report recorded"), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("load report: %v", err)), nil
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	return textResult(string(data)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
