package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/ports"
)

// Server exposes the retrieval pipeline as MCP tools.
type Server struct {
	contexts  ports.ContextService
	mcpServer *server.MCPServer
}

type ToolResult struct {
	Content string
	IsError bool
}

func NewServer(contexts ports.ContextService, version string) *Server {
	s := &Server{contexts: contexts}
	s.mcpServer = server.NewMCPServer(
		"adaptive-retrieval",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// ServeStdio blocks serving JSON-RPC over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "course_context":
		return s.handleContext(ctx, args)
	case "course_answer":
		return s.handleAnswer(ctx, args)
	case "score_query":
		return s.handleScore(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func queryOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("query",
			mcp.Description("The student question"),
			mcp.Required(),
		),
		mcp.WithString("course_id",
			mcp.Description("Restrict retrieval to one course (default: all courses)"),
		),
		mcp.WithString("user_id",
			mcp.Description("Caller id used for query history features"),
		),
		mcp.WithBoolean("history_enabled",
			mcp.Description("Allow the caller's past queries to influence confidence"),
		),
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("course_context",
		append([]mcp.ToolOption{
			mcp.WithDescription("Retrieve ranked course material for a question. The result carries confidence, the routing action and the assembled context text."),
		}, queryOptions()...)...,
	), s.wrap(s.handleContext))

	s.mcpServer.AddTool(mcp.NewTool("course_answer",
		append([]mcp.ToolOption{
			mcp.WithDescription("Answer a question from course material using the configured language model."),
		}, queryOptions()...)...,
	), s.wrap(s.handleAnswer))

	s.mcpServer.AddTool(mcp.NewTool("score_query",
		append([]mcp.ToolOption{
			mcp.WithDescription("Estimate how likely a question is to be answered by direct retrieval, without retrieving."),
		}, queryOptions()...)...,
	), s.wrap(s.handleScore))
}

func (s *Server) wrap(handler func(context.Context, map[string]any) (*ToolResult, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := handler(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	if r.IsError {
		return mcp.NewToolResultError(r.Content)
	}
	return mcp.NewToolResultText(r.Content)
}

type queryArgs struct {
	query    string
	courseID string
	user     *domain.UserContext
}

func parseQueryArgs(args map[string]any) (queryArgs, *ToolResult) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return queryArgs{}, &ToolResult{Content: "query is required", IsError: true}
	}
	out := queryArgs{query: query}
	out.courseID, _ = args["course_id"].(string)
	if userID, _ := args["user_id"].(string); strings.TrimSpace(userID) != "" {
		enabled, _ := args["history_enabled"].(bool)
		out.user = &domain.UserContext{UserID: userID, HistoryEnabled: enabled}
	}
	return out, nil
}

func (s *Server) handleContext(ctx context.Context, args map[string]any) (*ToolResult, error) {
	q, bad := parseQueryArgs(args)
	if bad != nil {
		return bad, nil
	}
	out, err := s.contexts.AnswerContext(ctx, q.query, q.courseID, q.user)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("retrieval failed: %v", err), IsError: true}, nil
	}
	return jsonResult(out)
}

func (s *Server) handleAnswer(ctx context.Context, args map[string]any) (*ToolResult, error) {
	q, bad := parseQueryArgs(args)
	if bad != nil {
		return bad, nil
	}
	out, err := s.contexts.Answer(ctx, q.query, q.courseID, q.user)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("answer failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: out.Text}, nil
}

func (s *Server) handleScore(ctx context.Context, args map[string]any) (*ToolResult, error) {
	q, bad := parseQueryArgs(args)
	if bad != nil {
		return bad, nil
	}
	return jsonResult(s.contexts.ScoreQuery(ctx, q.query, q.courseID, q.user))
}

func jsonResult(v any) (*ToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &ToolResult{Content: string(raw)}, nil
}
