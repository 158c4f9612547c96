// Package server exposes the message contract over HTTP. A tab is a parsed
// document with its own bus endpoint; messages posted to a tab are handled
// by that endpoint and answered with its reply.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/devraulu/hilight/pkg/agent"
	"github.com/devraulu/hilight/pkg/bus"
	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/page"
	"github.com/devraulu/hilight/pkg/persist"
)

type Server struct {
	bus     *bus.Bus
	pages   *persist.Manager
	fetcher *page.Fetcher
	status  *agent.StatusLog
	timeout time.Duration
	session []highlight.Option
	logger  *slog.Logger
}

type Option func(*Server)

// WithFetcher lets tabs be opened by URL alone.
func WithFetcher(f *page.Fetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

func WithStatusLog(l *agent.StatusLog) Option {
	return func(s *Server) { s.status = l }
}

// WithRequestTimeout bounds how long a request waits for an endpoint reply.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithSessionOptions applies opts to every new tab.
func WithSessionOptions(opts ...highlight.Option) Option {
	return func(s *Server) { s.session = append(s.session, opts...) }
}

func New(b *bus.Bus, pages *persist.Manager, opts ...Option) *Server {
	s := &Server{
		bus:     b,
		pages:   pages,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/tabs", func(r chi.Router) {
		r.Get("/", s.handleListTabs)
		r.Post("/", s.handleOpenTab)
		r.Delete("/{id}", s.handleCloseTab)
		r.Post("/{id}/messages", s.handleTabMessage)
		r.Get("/{id}/document", s.handleTabDocument)
	})
	r.Post("/settings/messages", s.handleSettingsMessage)
	r.Get("/pages", s.handlePages)
	r.Get("/export", s.handleExport)
	r.Get("/status", s.handleStatus)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type openTabRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html,omitempty"`
	Load bool   `json:"load,omitempty"`
}

type openTabResponse struct {
	ID       string     `json:"id"`
	PageHash string     `json:"pageHash"`
	Title    string     `json:"title"`
	Load     *bus.Reply `json:"load,omitempty"`
}

func (s *Server) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	var req openTabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}

	var doc *page.Document
	switch {
	case req.HTML != "":
		doc = page.Prepare([]byte(req.HTML))
	case s.fetcher != nil:
		fetched, err := s.fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			s.logger.Warn("fetch failed", slog.String("url", req.URL), slog.Any("err", err))
			writeError(w, fetchStatus(err), err.Error())
			return
		}
		doc = fetched
	default:
		writeError(w, http.StatusBadRequest, "html required")
		return
	}

	tree, err := page.Parse(bytes.NewReader(doc.HTML))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id := uuid.NewString()
	name := agent.TabPrefix + id
	c, err := agent.NewContent(name, req.URL, tree, s.pages, s.bus, s.session...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if err := c.Init(ctx); err != nil {
		s.logger.Error("tab init failed", slog.String("tab", name), slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err := s.bus.Register(name, c); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := openTabResponse{ID: id, PageHash: c.PageHash(), Title: c.Title()}
	if req.Load {
		reply, err := s.bus.Request(ctx, name, bus.Message{Action: agent.ActionLoad})
		if err == nil {
			resp.Load = &reply
		}
	}

	s.logger.Info("tab opened", slog.String("tab", name), slog.String("url", req.URL))
	writeJSON(w, http.StatusCreated, resp)
}

func fetchStatus(err error) int {
	switch {
	case errors.Is(err, page.ErrDisallowed):
		return http.StatusForbidden
	case errors.Is(err, page.ErrNotHTML):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	names := s.bus.Endpoints(agent.TabPrefix)
	ids := make([]string, len(names))
	for i, n := range names {
		ids[i] = strings.TrimPrefix(n, agent.TabPrefix)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tabs": ids})
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.bus.Unregister(agent.TabPrefix + id) {
		writeError(w, http.StatusNotFound, "no such tab")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTabMessage(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, agent.TabPrefix+chi.URLParam(r, "id"))
}

func (s *Server) handleSettingsMessage(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, agent.EndpointBackground)
}

// relay posts the body as a message to the endpoint and answers with its
// reply.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, to string) {
	var msg bus.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message")
		return
	}
	if msg.Action == "" {
		writeError(w, http.StatusBadRequest, "action required")
		return
	}
	msg.From = "http"

	reply, ok := s.request(w, r, to, msg)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) request(w http.ResponseWriter, r *http.Request, to string, msg bus.Message) (bus.Reply, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	reply, err := s.bus.Request(ctx, to, msg)
	switch {
	case err == nil:
		return reply, true
	case errors.Is(err, bus.ErrUnknownEndpoint):
		writeError(w, http.StatusNotFound, "no such tab")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "endpoint did not reply in time")
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
	return bus.Reply{}, false
}

func (s *Server) handleTabDocument(w http.ResponseWriter, r *http.Request) {
	reply, ok := s.request(w, r, agent.TabPrefix+chi.URLParam(r, "id"), bus.Message{Action: agent.ActionRender, From: "http"})
	if !ok {
		return
	}
	data, _ := reply.Data.(map[string]string)
	if !reply.OK || data == nil {
		writeError(w, http.StatusInternalServerError, reply.Status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(data["html"]))
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.pages.Pages(r.Context())
	if err != nil {
		s.logger.Error("list pages failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "list pages failed")
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.pages.Export(r.Context())
	if errors.Is(err, persist.ErrEmptyState) {
		writeError(w, http.StatusNotFound, "no saved highlights to export")
		return
	}
	if err != nil {
		s.logger.Error("export failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+agent.ExportFileName(bundle.ExportDate)+`"`)
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, []agent.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.status.Recent())
}
