// Package mcp exposes the sync engine over the Model Context Protocol so
// agent tooling can query and trigger syncs without shelling out.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pkbops/vaultsync/internal/git"
	"github.com/pkbops/vaultsync/internal/models"
	"github.com/pkbops/vaultsync/internal/orchestrate"
	"github.com/pkbops/vaultsync/internal/store"
)

// Server wraps the sync data layer and exposes it as MCP tools.
type Server struct {
	repos   []models.Repository
	git     git.Client
	history store.Store
	orch    *orchestrate.Orchestrator
}

// NewServer creates the MCP server wrapper. history may be nil.
func NewServer(repos []models.Repository, gc git.Client, history store.Store, orch *orchestrate.Orchestrator) *Server {
	return &Server{
		repos:   repos,
		git:     gc,
		history: history,
		orch:    orch,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("vaultsync", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listReposTool())
	srv.AddTool(s.statusTool())
	srv.AddTool(s.syncNowTool())
	srv.AddTool(s.historyTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// vaultsync_list_repos
func (s *Server) listReposTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("vaultsync_list_repos",
		mcp.WithDescription("List registered repositories. Returns a JSON array with name, path, remote, branch, scope, and whether the repo is the primary vault."),
	)
	return tool, s.handleListRepos
}

func (s *Server) handleListRepos(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type repoOut struct {
		Name    string `json:"name"`
		Path    string `json:"path"`
		Remote  string `json:"remote"`
		Branch  string `json:"branch"`
		Scope   string `json:"scope,omitempty"`
		Primary bool   `json:"primary"`
	}

	out := make([]repoOut, len(s.repos))
	for i, r := range s.repos {
		out[i] = repoOut{
			Name:    r.Name,
			Path:    r.Path,
			Remote:  r.Remote,
			Branch:  r.Branch,
			Scope:   r.Scope,
			Primary: r.Primary,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal repos: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// vaultsync_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("vaultsync_status",
		mcp.WithDescription("Get live status for each registered repository: current branch, pending change count, and the most recent sync outcome."),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type statusOut struct {
		Name        string `json:"name"`
		Branch      string `json:"branch,omitempty"`
		Pending     int    `json:"pending_changes"`
		LastOutcome string `json:"last_outcome,omitempty"`
		LastSyncAt  string `json:"last_sync_at,omitempty"`
		LastError   string `json:"last_error,omitempty"`
	}

	out := make([]statusOut, 0, len(s.repos))
	for _, r := range s.repos {
		st := statusOut{Name: r.Name}

		// Best-effort git info; a broken repo still gets a row.
		if branch, err := s.git.CurrentBranch(ctx, r.Path); err == nil {
			st.Branch = branch
		}
		if cs, err := s.git.Status(ctx, r.Path, r.Scope); err == nil {
			st.Pending = cs.Len()
		}

		if s.history != nil {
			if rec, err := s.history.LastOutcome(ctx, r.Name); err == nil && rec != nil {
				st.LastOutcome = string(rec.Outcome)
				st.LastSyncAt = rec.StartedAt.Format(time.RFC3339)
				st.LastError = rec.Error
			}
		}
		out = append(out, st)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// vaultsync_sync_now
func (s *Server) syncNowTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("vaultsync_sync_now",
		mcp.WithDescription("Run a sync cycle over all registered repositories. Returns the per-repository outcomes. Busy repositories are skipped, not failed."),
		mcp.WithString("mode", mcp.Description("Sync mode: quick (commit+push) or full (also regenerates derived artifacts). Default full.")),
	)
	return tool, s.handleSyncNow
}

func (s *Server) handleSyncNow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	modeArg := request.GetString("mode", string(models.ModeFull))
	mode, ok := models.ParseMode(modeArg)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("invalid mode %q: want quick or full", modeArg)), nil
	}

	cycle := s.orch.Run(ctx, mode)
	data, err := json.Marshal(cycle)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal cycle result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// vaultsync_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("vaultsync_history",
		mcp.WithDescription("List recent sync cycles from the history store, newest first. Each record has repository, mode, outcome, phase, commit, message, error, and timing."),
		mcp.WithString("repository", mcp.Description("Filter by repository name")),
		mcp.WithBoolean("failed", mcp.Description("Only show failed cycles")),
		mcp.WithNumber("limit", mcp.Description("Maximum records to return (default 20)")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("history store not configured"), nil
	}

	filter := store.HistoryFilter{
		Repository: request.GetString("repository", ""),
		FailedOnly: request.GetBool("failed", false),
		Limit:      request.GetInt("limit", 20),
	}

	recs, err := s.history.ListHistory(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list history: %v", err)), nil
	}

	type recOut struct {
		CycleID    string `json:"cycle_id"`
		Repository string `json:"repository"`
		Mode       string `json:"mode"`
		Outcome    string `json:"outcome"`
		Phase      string `json:"phase,omitempty"`
		Commit     string `json:"commit,omitempty"`
		Message    string `json:"message,omitempty"`
		Error      string `json:"error,omitempty"`
		DurationMS int64  `json:"duration_ms"`
		StartedAt  string `json:"started_at"`
	}

	out := make([]recOut, len(recs))
	for i, rec := range recs {
		out[i] = recOut{
			CycleID:    rec.CycleID,
			Repository: rec.Repository,
			Mode:       string(rec.Mode),
			Outcome:    string(rec.Outcome),
			Phase:      string(rec.Phase),
			Commit:     rec.CommitHash,
			Message:    rec.Message,
			Error:      rec.Error,
			DurationMS: rec.Duration.Milliseconds(),
			StartedAt:  rec.StartedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal history: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
