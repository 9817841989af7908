package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	coreask "github.com/jinford/doc-rag/internal/core/ask"
	corecatalog "github.com/jinford/doc-rag/internal/core/catalog"
	coresearch "github.com/jinford/doc-rag/internal/core/search"
)

// maxRequestBody はリクエストボディの上限
const maxRequestBody = 1 << 20

// Asker は質問応答を行う
type Asker interface {
	Ask(ctx context.Context, params coreask.AskParams) (*coreask.AskResult, error)
}

// CatalogProvider はメタデータカタログを返す
type CatalogProvider interface {
	Get(ctx context.Context) corecatalog.Catalog
}

// Handler は質問応答とカタログのHTTP API
type Handler struct {
	asker   Asker
	catalog CatalogProvider
	logger  *slog.Logger
}

// NewHandler は新しいHandlerを作成します
func NewHandler(asker Asker, catalog CatalogProvider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{asker: asker, catalog: catalog, logger: logger}
}

// Routes はルーティング済みの http.Handler を返します
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /api/catalog", h.getCatalog)
	mux.HandleFunc("POST /api/ask", h.ask)
	return mux
}

type askRequest struct {
	Question string         `json:"question"`
	History  []coreask.Turn `json:"history"`
	Filter   map[string]any `json:"filter"`
}

type catalogResponse struct {
	Sources []string `json:"sources"`
	MinPage *int     `json:"minPage"`
	MaxPage *int     `json:"maxPage"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) getCatalog(w http.ResponseWriter, r *http.Request) {
	c := h.catalog.Get(r.Context())

	resp := catalogResponse{Sources: c.Sources}
	if resp.Sources == nil {
		resp.Sources = []string{}
	}
	if v, ok := c.MinPage.Get(); ok {
		resp.MinPage = &v
	}
	if v, ok := c.MaxPage.Get(); ok {
		resp.MaxPage = &v
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	for _, t := range req.History {
		if t.Role != coreask.RoleUser && t.Role != coreask.RoleAssistant {
			h.writeError(w, http.StatusBadRequest, "history role must be user or assistant")
			return
		}
	}

	filter, err := coresearch.ParseWire(req.Filter)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.asker.Ask(r.Context(), coreask.AskParams{
		Question: req.Question,
		History:  req.History,
		Filter:   filter,
	})
	switch {
	case errors.Is(err, coreask.ErrEmptyQuestion), errors.Is(err, coresearch.ErrInvalidFilter):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("ask request failed", "error", err)
		h.writeError(w, http.StatusBadGateway, "failed to answer question")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// Serve は addr でHTTPサーバを起動し、ctx がキャンセルされるとグレースフルに停止します
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTPサーバを起動しました", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("HTTPサーバを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
