package journal

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
	"github.com/zhouzirui/voice-journal/backend/pkg/utils"
)

// Service is what the journal endpoints need.
type Service interface {
	Entries(ctx context.Context, date string) ([]journal.EntryView, error)
	StartSession(raw string) (journal.SessionType, string)
	Summary(ctx context.Context, sessionType journal.SessionType) (*journal.Summary, error)
	Clear(ctx context.Context) error
}

// Handler 日记相关的HTTP处理器
type Handler struct {
	svc Service
}

// New 创建日记处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册根路径下的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/start-session", h.handleStartSession)
	r.Get("/entries", h.handleListEntries)
}

// RegisterAPIRoutes 注册 /api 下的路由
func (h *Handler) RegisterAPIRoutes(api chi.Router) {
	api.Get("/summaries/{sessionType}", h.handleGetSummary)
	api.Post("/clear-database", h.handleClearDatabase)
}

type startSessionResponse struct {
	Message     string              `json:"message"`
	SessionType journal.SessionType `json:"session_type"`
}

// handleStartSession 返回会话类型对应的开场白
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type string `json:"type"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionType, message := h.svc.StartSession(payload.Type)
	utils.RespondJSON(w, http.StatusOK, startSessionResponse{
		Message:     message,
		SessionType: sessionType,
	})
}

// handleListEntries 列出日记，可按 date_filter 过滤
func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Entries(r.Context(), r.URL.Query().Get("date_filter"))
	if err != nil {
		log.Printf("[journal] list entries failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load entries")
		return
	}
	utils.RespondJSON(w, http.StatusOK, entries)
}

// handleGetSummary 获取某类会话的历史摘要
func (h *Handler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	sessionType := journal.SessionType(chi.URLParam(r, "sessionType"))
	if !sessionType.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "unknown session type")
		return
	}

	summary, err := h.svc.Summary(r.Context(), sessionType)
	if errors.Is(err, journal.ErrSummaryNotFound) {
		utils.RespondError(w, http.StatusNotFound, "summary not found")
		return
	}
	if err != nil {
		log.Printf("[journal] load summary failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

// handleClearDatabase 清空日记与目标
func (h *Handler) handleClearDatabase(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Clear(r.Context())
	if err != nil {
		log.Printf("[journal] clear database failed: %v", err)
	}
	utils.RespondOutcome(w, err, "Database cleared successfully")
}
