package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/service"
)

const (
	ToolSearch = "search_documents"
	ToolAsk    = "ask"
)

// Backend is the part of the service exposed over MCP.
type Backend interface {
	Search(ctx context.Context, query string, k int) ([]domain.ScoredFragment, error)
	Ask(ctx context.Context, req service.AskRequest) (service.Answer, error)
}

type handlers struct {
	backend Backend
	topK    int
	logger  *zap.Logger
}

// New returns an MCP server with the search_documents and ask tools.
func New(backend Backend, version string, topK int, logger *zap.Logger) *server.MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{backend: backend, topK: topK, logger: logger}

	search := mcp.NewTool(ToolSearch,
		mcp.WithDescription("Search ingested documents and return the most similar fragments"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of fragments to return"),
		))
	ask := mcp.NewTool(ToolAsk,
		mcp.WithDescription("Answer a question from the ingested documents with citations"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question to answer"),
		),
		mcp.WithBoolean("force_rule",
			mcp.Description("Skip the language model and answer with extraction rules"),
		))

	srv := server.NewMCPServer("docqa", version, server.WithToolCapabilities(false))
	srv.AddTool(search, h.search)
	srv.AddTool(ask, h.ask)
	return srv
}

// ServeStdio serves srv over stdin/stdout until ctx is cancelled or input ends.
func ServeStdio(ctx context.Context, srv *server.MCPServer, in io.Reader, out io.Writer, logger *zap.Logger) error {
	stdio := server.NewStdioServer(srv)
	stdio.SetErrorLogger(zap.NewStdLog(logger))
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type fragmentResult struct {
	Score      float64 `json:"score"`
	DocumentID *int64  `json:"document_id"`
	Page       *int    `json:"page,omitempty"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Text       string  `json:"text"`
}

func (h *handlers) search(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	k := int(request.GetFloat("top_k", float64(h.topK)))

	res, err := h.backend.Search(ctx, q, k)
	if err != nil {
		h.logger.Warn("mcp search failed", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	var response strings.Builder
	for _, r := range res {
		raw, err := json.Marshal(fragmentResult{
			Score:      r.Score,
			DocumentID: r.Fragment.DocumentID,
			Page:       r.Fragment.Page,
			Start:      r.Fragment.Start,
			End:        r.Fragment.End,
			Text:       r.Fragment.Text,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fmt.Fprintf(&response, "%s\n", raw)
	}
	return mcp.NewToolResultText(response.String()), nil
}

type citationResult struct {
	DocumentID *int64  `json:"document_id"`
	Page       *int    `json:"page,omitempty"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Evidence   string  `json:"evidence"`
}

type answerResult struct {
	Question      string           `json:"question"`
	Answer        string           `json:"answer"`
	Reason        string           `json:"reason"`
	SimilarityTop float64          `json:"similarity_top"`
	Citations     []citationResult `json:"citations"`
}

func (h *handlers) ask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ans, err := h.backend.Ask(ctx, service.AskRequest{
		Question:  q,
		ForceRule: request.GetBool("force_rule", false),
	})
	if err != nil {
		h.logger.Warn("mcp ask failed", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := answerResult{
		Question:      ans.Question,
		Answer:        ans.Text,
		Reason:        ans.Reason,
		SimilarityTop: ans.SimilarityTop,
		Citations:     []citationResult{},
	}
	for _, c := range ans.Citations {
		out.Citations = append(out.Citations, citationResult(c))
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}
