// Package server exposes the assistant over HTTP: JSON chat and resume,
// plain-text streaming, history retrieval and session clearing. It is a thin
// layer over runner.Runner; all orchestration rules (per-session serial
// execution, checkpoint gating) surface here as HTTP status codes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/logging"
	"github.com/shopmesh/shopmesh/runner"
)

// Options configure the HTTP layer.
type Options struct {
	// Logger receives request lifecycle logs.
	Logger logging.Logger
	// HistoryLimit caps the number of events a history request may return.
	// Zero means unbounded.
	HistoryLimit int
}

// Server wires the assistant endpoints onto an echo instance.
type Server struct {
	echo   *echo.Echo
	runner *runner.Runner
	logger logging.Logger

	historyLimit int
}

// New builds the HTTP server over a runner.
func New(r *runner.Runner, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		HistoryLimit: 200,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:         e,
		runner:       r,
		logger:       opts.Logger,
		historyLimit: opts.HistoryLimit,
	}

	g := e.Group("/assistant")
	g.POST("/chat", s.handleChat)
	g.POST("/chat/stream", s.handleChatStream)
	g.POST("/resume", s.handleResume)
	g.GET("/history/:session_id", s.handleHistory)
	g.DELETE("/chat/:session_id", s.handleClear)

	return s
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// Handler exposes the routed handler for embedding and tests.
func (s *Server) Handler() http.Handler { return s.echo }

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type resumeRequest struct {
	SessionID       string         `json:"session_id"`
	Decision        string         `json:"decision"`
	EditedArguments map[string]any `json:"edited_arguments,omitempty"`
}

// interruptionPayload is the wire shape of a suspended run: the action
// awaiting approval, its human prompt, and the proposed arguments.
type interruptionPayload struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Args    map[string]any `json:"args"`
}

type chatResponse struct {
	SessionID    string               `json:"session_id"`
	RunID        string               `json:"run_id"`
	Reply        string               `json:"reply"`
	Interruption *interruptionPayload `json:"interruption,omitempty"`
}

type historyMessage struct {
	Role      string    `json:"role"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, &core.ValidationError{Field: "body", Reason: "malformed JSON"})
	}
	if req.SessionID == "" {
		req.SessionID = core.NewID()
	}

	reply, err := s.runner.SubmitMessage(c.Request().Context(), req.SessionID, req.Message)
	if err != nil {
		return s.writeError(c, err)
	}

	out, err := reply.Wait()
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, buildChatResponse(req.SessionID, reply.RunID, out))
}

func (s *Server) handleChatStream(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, &core.ValidationError{Field: "body", Reason: "malformed JSON"})
	}
	if req.SessionID == "" {
		req.SessionID = core.NewID()
	}

	reply, err := s.runner.SubmitMessage(c.Request().Context(), req.SessionID, req.Message)
	if err != nil {
		return s.writeError(c, err)
	}

	return s.streamReply(c, req.SessionID, reply)
}

func (s *Server) handleResume(c echo.Context) error {
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, &core.ValidationError{Field: "body", Reason: "malformed JSON"})
	}

	decision := core.Decision{
		Kind:            core.DecisionKind(req.Decision),
		EditedArguments: req.EditedArguments,
	}

	reply, err := s.runner.Resume(c.Request().Context(), req.SessionID, decision)
	if err != nil {
		return s.writeError(c, err)
	}

	if c.QueryParam("stream") == "true" {
		return s.streamReply(c, req.SessionID, reply)
	}

	out, err := reply.Wait()
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, buildChatResponse(req.SessionID, reply.RunID, out))
}

func (s *Server) handleHistory(c echo.Context) error {
	sessionID := c.Param("session_id")

	limit := s.historyLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return s.writeError(c, &core.ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
		}
		if n > 0 && (s.historyLimit == 0 || n < s.historyLimit) {
			limit = n
		}
	}

	events, err := s.runner.History(c.Request().Context(), sessionID, limit)
	if err != nil {
		return s.writeError(c, err)
	}

	messages := make([]historyMessage, 0, len(events))
	for _, ev := range events {
		messages = append(messages, historyMessage{
			Role:      ev.Content.Role,
			Author:    ev.Author,
			Text:      ev.Text(),
			Timestamp: ev.Timestamp,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (s *Server) handleClear(c echo.Context) error {
	sessionID := c.Param("session_id")

	if err := s.runner.Clear(c.Request().Context(), sessionID); err != nil {
		return s.writeError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// streamReply writes the run's text as it arrives. Complete turns that were
// already delivered as fragments are not repeated; a suspension appends the
// confirmation prompt.
func (s *Server) streamReply(c echo.Context, sessionID string, reply *runner.Reply) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	res.Header().Set("X-Session-Id", sessionID)
	res.Header().Set("X-Run-Id", reply.RunID)
	res.WriteHeader(http.StatusOK)

	write := func(text string) {
		if text == "" {
			return
		}
		_, _ = res.Write([]byte(text))
		res.Flush()
	}

	turnStreamed := false
	wrote := false
	for ev := range reply.Events {
		if ev.ErrorMessage != nil {
			write(fmt.Sprintf("\nerror: %s", *ev.ErrorMessage))
			continue
		}
		if ev.IsPartial() {
			write(ev.Text())
			turnStreamed = true
			wrote = true
			continue
		}
		if ev.IsInterruption() {
			if wrote {
				write("\n")
			}
			write(ev.Text())
			wrote = true
			turnStreamed = false
			continue
		}
		if t := ev.Text(); t != "" && !turnStreamed &&
			len(ev.GetFunctionCalls()) == 0 && len(ev.GetFunctionResponses()) == 0 {
			if wrote {
				write("\n")
			}
			write(t)
			wrote = true
		}
		turnStreamed = false
	}

	return nil
}

func buildChatResponse(sessionID, runID string, out *runner.Outcome) chatResponse {
	resp := chatResponse{
		SessionID: sessionID,
		RunID:     runID,
		Reply:     out.Text,
	}
	if out.Pending != nil {
		resp.Interruption = &interruptionPayload{
			Type:    out.Pending.ActionType,
			Message: out.Pending.Prompt,
			Args:    out.Pending.Arguments,
		}
	}
	return resp
}

// writeError maps orchestration errors onto HTTP status codes.
func (s *Server) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError

	var vErr *core.ValidationError
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrBusy),
		errors.Is(err, core.ErrCheckpointPending),
		errors.Is(err, core.ErrNoActiveCheckpoint):
		status = http.StatusConflict
	case errors.Is(err, core.ErrSessionNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("server.request.failed", "path", c.Path(), "error", err.Error())
	}

	return c.JSON(status, map[string]string{"error": err.Error()})
}
