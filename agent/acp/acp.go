// Package acp serves the agent over the Agent Client Protocol.
//
// It implements a minimal subset of ACP over newline-delimited JSON-RPC:
//   - initialize
//   - session/new
//   - session/load (replays the stored conversation)
//   - session/prompt (streams thoughts and action calls as session/update notifications)
//   - session/cancel
//
// Nothing but JSON-RPC messages is written to the output stream. Diagnostics
// go to the server's logger.
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/m4xw311/thinkact/agent"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
	"github.com/m4xw311/thinkact/session"
	"github.com/m4xw311/thinkact/steplog"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxResourceSize caps the inlined contents of a file resource link.
const maxResourceSize = 50000

// jsonrpcRequest represents a JSON-RPC 2.0 request or notification
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message
type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

// jsonrpcError represents a JSON-RPC 2.0 error object
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// contentBlock represents a content block in ACP prompt requests.
// Text and resource_link blocks are understood.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// ResourceLink fields
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// Server answers ACP requests with a fresh agent per prompt built from a
// shared base configuration.
type Server struct {
	base       agent.Config
	sessionDir string
	logger     *slog.Logger
	cancels    *agent.Cancellations
	newID      func() string

	mu       sync.Mutex
	sessions map[string]*session.Session
	// active maps a session ID to its running request ID.
	active map[string]string

	writeLock sync.Mutex
	out       *bufio.Writer
	prompts   sync.WaitGroup
}

// NewServer creates a server storing sessions under sessionDir.
func NewServer(base agent.Config, sessionDir string, logger *slog.Logger) *Server {
	return &Server{
		base:       base,
		sessionDir: sessionDir,
		logger:     logging.Component(logger, "acp"),
		cancels:    agent.NewCancellations(),
		newID:      uuid.NewString,
		sessions:   make(map[string]*session.Session),
		active:     make(map[string]string),
	}
}

// Serve reads requests from in until EOF and writes responses and
// notifications to out. Prompts run concurrently with the read loop so a
// session/cancel can reach a running prompt. Serve returns after every
// running prompt has finished.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = bufio.NewWriter(out)
	defer s.prompts.Wait()

	reader := bufio.NewReader(in)
	s.logger.Debug("acp server started")
	for {
		line, err := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			s.dispatch(ctx, line)
		}
		if err != nil {
			if err == io.EOF {
				s.logger.Debug("acp input closed")
				return nil
			}
			return errors.Wrapf(err, "ACP: read error")
		}
	}
}

func (s *Server) dispatch(ctx context.Context, payload []byte) {
	s.logger.Debug("received payload", slog.String("payload", string(payload)))
	var req jsonrpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("malformed request", slog.Any("error", err))
		s.writeError(nil, codeParseError, "Parse error", nil)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(&req)
	case "session/new":
		s.handleSessionNew(&req)
	case "session/load":
		s.handleSessionLoad(&req)
	case "session/prompt":
		s.handleSessionPrompt(ctx, &req)
	case "session/cancel":
		s.handleSessionCancel(&req)
	default:
		if req.ID != nil {
			s.writeError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

// writeFramed serializes and writes one newline-terminated message.
func (s *Server) writeFramed(obj any) {
	data, err := json.Marshal(obj)
	if err != nil {
		s.logger.Error("failed to serialize JSON-RPC message", slog.Any("error", err))
		return
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	s.out.Write(data)
	s.out.WriteByte('\n')
	if err := s.out.Flush(); err != nil {
		s.logger.Warn("failed to write JSON-RPC message", slog.Any("error", err))
	}
}

func (s *Server) writeResult(id, result any) {
	s.writeFramed(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id any, code int, msg string, data any) {
	s.writeFramed(jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: msg, Data: data}})
}

// writeUpdate sends a session/update notification.
func (s *Server) writeUpdate(sessionID string, update map[string]any) {
	s.writeFramed(map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params": map[string]any{
			"sessionId": sessionID,
			"update":    update,
		},
	})
}

func textContent(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func (s *Server) decodeParams(req *jsonrpcRequest, v any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return false
	}
	return true
}

// handleInitialize returns the protocol version and agent capabilities
func (s *Server) handleInitialize(req *jsonrpcRequest) {
	s.writeResult(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *Server) handleSessionNew(req *jsonrpcRequest) {
	var p struct {
		Cwd string `json:"cwd"`
	}
	if !s.decodeParams(req, &p) {
		return
	}

	sid := "sess_" + s.newID()
	sess, err := session.New(s.sessionDir, sid)
	if err != nil {
		s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to create session: %v", err))
		return
	}
	s.mu.Lock()
	s.sessions[sid] = sess
	s.mu.Unlock()

	s.logger.Info("session created", slog.String("session", sid))
	s.writeResult(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad loads a stored session and replays its messages as
// user_message_chunk and agent_message_chunk updates before responding.
func (s *Server) handleSessionLoad(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	s.mu.Lock()
	_, running := s.active[p.SessionID]
	s.mu.Unlock()
	if running {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "session has a running prompt")
		return
	}

	sess, err := session.Load(s.sessionDir, p.SessionID)
	if err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %v", err))
		return
	}
	s.mu.Lock()
	s.sessions[p.SessionID] = sess
	s.mu.Unlock()

	for _, msg := range sess.Messages {
		text := msg.Text()
		if text == "" {
			continue
		}
		switch msg.Role {
		case session.RoleUser:
			s.writeUpdate(p.SessionID, map[string]any{"sessionUpdate": "user_message_chunk", "content": textContent(text)})
		case session.RoleAssistant:
			s.writeUpdate(p.SessionID, map[string]any{"sessionUpdate": "agent_message_chunk", "content": textContent(text)})
		}
	}
	s.logger.Info("session loaded", slog.String("session", p.SessionID), slog.Int("messages", len(sess.Messages)))
	s.writeResult(req.ID, json.RawMessage("null"))
}

// handleSessionPrompt starts a query for the session and responds with the
// stop reason once it finishes.
func (s *Server) handleSessionPrompt(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if !s.decodeParams(req, &p) {
		return
	}

	requestID := s.newID()
	s.mu.Lock()
	sess, ok := s.sessions[p.SessionID]
	_, running := s.active[p.SessionID]
	if ok && !running {
		s.active[p.SessionID] = requestID
	}
	s.mu.Unlock()
	switch {
	case !ok:
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	case running:
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "session already has a running prompt")
		return
	}

	userText := extractUserText(p.Prompt)
	s.prompts.Add(1)
	go func() {
		defer s.prompts.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, p.SessionID)
			s.mu.Unlock()
			s.cancels.Forget(requestID)
		}()
		s.runPrompt(ctx, req.ID, p.SessionID, requestID, sess, userText)
	}()
}

func (s *Server) runPrompt(ctx context.Context, id any, sessionID, requestID string, sess *session.Session, userText string) {
	log := s.logger.With(slog.String("session", sessionID), slog.String("request_id", requestID))

	cfg := s.base
	cfg.Canceller = s.cancels
	cfg.Steps = steplog.Multi{s.base.Steps, s.notifier(sessionID)}
	a, err := agent.New(cfg)
	if err != nil {
		s.writeError(id, codeInternalError, "Internal error", err.Error())
		return
	}

	sess.AddMessage(session.NewMessage(session.RoleUser, userText))
	res, err := a.Query(ctx, requestID, sess.History())
	stopReason := "end_turn"
	switch {
	case errors.Is(err, agent.ErrCancelled):
		log.Info("prompt cancelled")
		stopReason = "cancelled"
	case err != nil:
		s.writeError(id, codeInternalError, "Internal error", fmt.Sprintf("error processing user input: %v", err))
		return
	default:
		s.writeUpdate(sessionID, map[string]any{"sessionUpdate": "agent_message_chunk", "content": textContent(res.Answer)})
		sess.AddMessage(session.NewMessage(session.RoleAssistant, res.Answer))
	}

	if err := sess.Save(); err != nil {
		log.Warn("failed to save session", slog.Any("error", err))
	}
	s.writeResult(id, map[string]any{"stopReason": stopReason})
}

// handleSessionCancel cancels the session's running prompt. It is a
// notification and gets no response.
func (s *Server) handleSessionCancel(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.logger.Warn("malformed session/cancel", slog.Any("error", err))
		return
	}
	s.mu.Lock()
	requestID, ok := s.active[p.SessionID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("nothing to cancel", slog.String("session", p.SessionID))
		return
	}
	s.cancels.Cancel(requestID)
	s.logger.Info("cancel requested", slog.String("session", p.SessionID), slog.String("request_id", requestID))
}

// notifier turns agent steps into session/update notifications.
func (s *Server) notifier(sessionID string) agent.StepFunc {
	return func(_ context.Context, step agent.Step) error {
		toolCallID := fmt.Sprintf("%s_%d", step.RequestID, step.Turn)
		switch step.Type {
		case agent.StepThought:
			s.writeUpdate(sessionID, map[string]any{"sessionUpdate": "agent_thought_chunk", "content": textContent(step.Content)})
		case agent.StepAction:
			s.writeUpdate(sessionID, map[string]any{
				"sessionUpdate": "tool_call",
				"toolCallId":    toolCallID,
				"title":         step.ActionName,
				"kind":          "other",
				"status":        "in_progress",
				"rawInput":      step.ActionParams,
			})
		case agent.StepObservation:
			status := "completed"
			if strings.HasPrefix(step.Content, "Error executing") {
				status = "failed"
			}
			s.writeUpdate(sessionID, map[string]any{
				"sessionUpdate": "tool_call_update",
				"toolCallId":    toolCallID,
				"status":        status,
				"content": []any{
					map[string]any{"type": "content", "content": textContent(step.Content)},
				},
			})
		}
		return nil
	}
}

// readFileFromURI reads the file behind a file:// URI
func readFileFromURI(uri string) (string, error) {
	parsedURL, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if parsedURL.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", parsedURL.Scheme)
	}
	content, err := os.ReadFile(parsedURL.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}

// extractUserText creates a single string from all content blocks
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if len(content) > maxResourceSize {
				content = content[:maxResourceSize] + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}
