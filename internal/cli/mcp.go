package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/app"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/core"
)

// MCP Protocol types
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type MCPInitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	ServerInfo      MCPServerInfo `json:"serverInfo"`
	Capabilities    interface{}   `json:"capabilities"`
}

// EventsParams are the parameters for the get_events tool
type EventsParams struct {
	Period  string `json:"period"`
	Refresh bool   `json:"refresh"`
}

// DateParams are the parameters for the date-based tools
type DateParams struct {
	DateSpec string `json:"date_spec"`
}

// InsightsParams are the parameters for the get_insights tool
type InsightsParams struct {
	Kind string `json:"kind"`
	Week string `json:"week"`
}

// mcpServer answers MCP requests over line-delimited JSON-RPC.
type mcpServer struct {
	app *app.App

	mu  sync.Mutex
	out io.Writer
}

func newMCPServer(a *app.App, out io.Writer) *mcpServer {
	return &mcpServer{app: a, out: out}
}

// Serve reads requests from in until EOF or ctx is cancelled.
func (s *mcpServer) Serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	// Increase buffer size for large messages
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			// Without an ID there is nothing to respond to.
			fmt.Fprintf(os.Stderr, "[MCP] Parse error: %v\n", err)
			continue
		}

		s.handle(ctx, &req)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

func (s *mcpServer) handle(ctx context.Context, req *MCPRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		return
	case "tools/list":
		s.sendResponse(req.ID, map[string]interface{}{"tools": mcpTools()})
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		// Notifications (no ID) are ignored per JSON-RPC
		if req.ID != nil {
			s.sendError(req.ID, -32601, "Method not found", req.Method)
		}
	}
}

func (s *mcpServer) handleInitialize(req *MCPRequest) {
	s.sendResponse(req.ID, MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo: MCPServerInfo{
			Name:    "tempo-cli",
			Version: core.Version,
		},
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	})
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func mcpTools() []MCPToolInfo {
	dateSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"date_spec": stringProp("Date - YYYY-MM-DD, today, yesterday, tomorrow, M/D or d-N (default: today)"),
		},
	}

	return []MCPToolInfo{
		{
			Name:        "get_events",
			Description: "List upcoming calendar events from the local cache, syncing when the cache is stale.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"period": stringProp("Optional filter: today, yesterday, this-week, last-week, this-month, last-month or last-30-days"),
					"refresh": map[string]interface{}{
						"type":        "boolean",
						"description": "Bypass the event cache",
						"default":     false,
					},
				},
			},
		},
		{
			Name:        "get_briefing",
			Description: "Get the daily briefing for a date.",
			InputSchema: dateSchema,
		},
		{
			Name:        "get_summary",
			Description: "Get the AI summary of a day.",
			InputSchema: dateSchema,
		},
		{
			Name:        "get_insights",
			Description: "Get insights of one kind: health, weekly, life, capacity or weeks.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"kind": map[string]interface{}{
						"type": "string",
						"enum": []string{"health", "weekly", "life", "capacity", "weeks"},
					},
					"week": stringProp("Week for weekly insights (N or YYYY-WNN)"),
				},
				"required": []string{"kind"},
			},
		},
		{
			Name:        "cache_status",
			Description: "Report session state and which caches are fresh.",
			InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		},
	}
}

func (s *mcpServer) handleToolsCall(ctx context.Context, req *MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	var (
		result interface{}
		err    error
	)
	switch params.Name {
	case "get_events":
		result, err = s.getEvents(ctx, params.Arguments)
	case "get_briefing":
		result, err = s.getBriefing(ctx, params.Arguments)
	case "get_summary":
		result, err = s.getSummary(ctx, params.Arguments)
	case "get_insights":
		result, err = s.getInsights(ctx, params.Arguments)
	case "cache_status":
		result = s.cacheStatus()
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}

	if err != nil {
		s.sendToolError(req.ID, err.Error())
		return
	}
	s.sendToolResult(req.ID, result)
}

func (s *mcpServer) getEvents(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args EventsParams
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	a := s.app
	var events []api.Event
	if forceCache {
		events, _ = a.Events.LoadEvents()
	} else {
		var err error
		events, err = a.Calendar.Events(ctx, a.Config.DaysToFetch, args.Refresh)
		if err != nil && len(events) == 0 {
			return nil, err
		}
	}

	if args.Period != "" {
		start, end, err := core.GetTimeRange(args.Period, a.Location)
		if err != nil {
			return nil, err
		}
		events = filterEvents(events, start, end)
	}

	result := map[string]interface{}{
		"events_count": len(events),
		"events":       events,
		"cache_fresh":  a.Events.IsCacheValid(),
	}
	if meta := a.Events.Metadata(); meta != nil {
		result["last_updated"] = meta.LastUpdated.Format(time.RFC3339)
	}
	return result, nil
}

func (s *mcpServer) parseDate(raw json.RawMessage) (time.Time, error) {
	var args DateParams
	if err := json.Unmarshal(raw, &args); err != nil {
		return time.Time{}, fmt.Errorf("invalid arguments: %w", err)
	}
	var specArgs []string
	if args.DateSpec != "" {
		specArgs = []string{args.DateSpec}
	}
	return dateArg(specArgs, s.app)
}

func (s *mcpServer) getBriefing(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	date, err := s.parseDate(raw)
	if err != nil {
		return nil, err
	}
	return cachedOrFetch(ctx, s.app, cache.KeyDailyBriefing(date), core.TTLDailyBriefing,
		func(ctx context.Context) (*api.DailyBriefing, error) { return s.app.API.DailyBriefing(ctx, date) })
}

func (s *mcpServer) getSummary(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	date, err := s.parseDate(raw)
	if err != nil {
		return nil, err
	}
	return dailySummary(ctx, s.app, date)
}

func (s *mcpServer) getInsights(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args InsightsParams
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	v, _, err := loadInsights(ctx, s.app, args.Kind, args.Week)
	return v, err
}

func (s *mcpServer) cacheStatus() interface{} {
	a := s.app
	fresh := map[string]bool{}
	for name, key := range a.Prefetch.Keys(time.Now()) {
		fresh[name] = a.Cache.IsValid(key)
	}
	status := map[string]interface{}{
		"session":        a.Auth.State().String(),
		"events_fresh":   a.Events.IsCacheValid(),
		"insights_fresh": fresh,
		"prefetch_state": a.Prefetch.State().String(),
		"summaries":      a.Summaries.Len(),
		"syncing":        a.Calendar.Syncing(),
	}
	if err := a.Calendar.LastError(); err != nil {
		status["sync_error"] = err.Error()
	}
	return status
}

func (s *mcpServer) write(resp MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[MCP] Encode error: %v\n", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

func (s *mcpServer) sendResponse(id interface{}, result interface{}) {
	s.write(MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *mcpServer) sendError(id interface{}, code int, message, data string) {
	s.write(MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *mcpServer) sendToolResult(id interface{}, result interface{}) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": mustMarshal(result),
			},
		},
	})
}

func (s *mcpServer) sendToolError(id interface{}, message string) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": message,
			},
		},
		"isError": true,
	})
}

func mustMarshal(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}
