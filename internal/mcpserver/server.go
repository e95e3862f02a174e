// Package mcpserver exposes the task ledger and run snapshots as MCP tools
// so an agent can inspect and stop runs.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"devflow/internal/artifact"
	"devflow/internal/ledger"
)

// Name is the server name advertised to clients.
const Name = "devflow"

// getArgs extracts arguments from request as map[string]any
func getArgs(request mcp.CallToolRequest) map[string]any {
	if args, ok := request.Params.Arguments.(map[string]any); ok {
		return args
	}
	return make(map[string]any)
}

// Server serves ledger queries over MCP.
type Server struct {
	mcpServer *server.MCPServer
	ledger    *ledger.Ledger
	store     *artifact.Store
}

// New creates the server and registers its tools.
func New(l *ledger.Ledger, store *artifact.Store, version string) *Server {
	s := &Server{ledger: l, store: store}

	mcpServer := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List every recorded workflow run with its status and story counts"),
	), s.handleListRuns)

	mcpServer.AddTool(mcp.NewTool("run_events",
		mcp.WithDescription("Return the ledger events of a run in order"),
		mcp.WithString("run_id",
			mcp.Description("Run id; the latest run when omitted"),
		),
	), s.handleRunEvents)

	mcpServer.AddTool(mcp.NewTool("latest_run",
		mcp.WithDescription("Summarize the most recently started run"),
	), s.handleLatestRun)

	mcpServer.AddTool(mcp.NewTool("show_run",
		mcp.WithDescription("Return the saved snapshot of a run: stories, progress and learnings"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run id"),
		),
	), s.handleShowRun)

	mcpServer.AddTool(mcp.NewTool("stop_run",
		mcp.WithDescription("Ask a running workflow to stop before its next step or story"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run id"),
		),
	), s.handleStopRun)
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.ledger.Runs()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read ledger: %v", err)), nil
	}
	if runs == nil {
		runs = []ledger.RunSummary{}
	}
	return jsonResult(runs)
}

func (s *Server) handleRunEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, _ := getArgs(request)["run_id"].(string)
	if runID == "" {
		latest, ok, err := s.ledger.LatestRunID()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read ledger: %v", err)), nil
		}
		if !ok {
			return mcp.NewToolResultError("no runs recorded"), nil
		}
		runID = latest
	}
	events, err := s.ledger.RunEvents(runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read ledger: %v", err)), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("no events for run %s", runID)), nil
	}
	return jsonResult(events)
}

func (s *Server) handleLatestRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, ok, err := s.latest()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read ledger: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultError("no runs recorded"), nil
	}
	return jsonResult(summary)
}

func (s *Server) handleShowRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, ok := getArgs(request)["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}
	r, err := s.store.LoadRun(runID)
	if errors.Is(err, os.ErrNotExist) {
		return mcp.NewToolResultError(fmt.Sprintf("run %s not found", runID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

func (s *Server) handleStopRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, ok := getArgs(request)["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}
	runs, err := s.ledger.Runs()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read ledger: %v", err)), nil
	}
	for _, r := range runs {
		if r.RunID != runID {
			continue
		}
		if !r.Running() {
			return mcp.NewToolResultError(fmt.Sprintf("run %s already finished (%s)", runID, r.Status)), nil
		}
		if err := s.store.RequestStop(runID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Stop requested for run %s", runID)), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("run %s not found", runID)), nil
}

// latest returns the summary of the most recently started run.
func (s *Server) latest() (ledger.RunSummary, bool, error) {
	runID, ok, err := s.ledger.LatestRunID()
	if err != nil || !ok {
		return ledger.RunSummary{}, false, err
	}
	events, err := s.ledger.RunEvents(runID)
	if err != nil {
		return ledger.RunSummary{}, false, err
	}
	runs := ledger.Summarize(events)
	if len(runs) == 0 {
		return ledger.RunSummary{}, false, nil
	}
	return runs[0], true, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
