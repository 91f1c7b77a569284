package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mobilbff/internal/middleware"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はヘルスチェックに必要なインターフェース。
// repository.PostgresStoreが実装する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// menuItem はモバイルアプリの下部メニュー項目。
type menuItem struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Icon  string `json:"icon"`
	Route string `json:"route"`
	Badge *int   `json:"badge,omitempty"`
}

func intPtr(v int) *int { return &v }

// bottomMenu はアプリ下部メニューの固定定義。
var bottomMenu = []menuItem{
	{Key: "discover", Title: "Keşfet", Icon: "compass", Route: "/discover"},
	{Key: "events", Title: "Etkinlikler", Icon: "calendar", Route: "/events"},
	{Key: "photos", Title: "Fotoğraflar", Icon: "image", Route: "/photos"},
	{Key: "messages", Title: "Mesajlar", Icon: "message-circle", Route: "/messages", Badge: intPtr(0)},
	{Key: "profile", Title: "Profil", Icon: "user", Route: "/profile"},
}

// AppHandler は認証以外のアプリ向けエンドポイントを提供する。
type AppHandler struct {
	health HealthChecker
}

// NewAppHandler はAppHandlerを生成する。healthがnilの場合、/healthは常に200を返す。
func NewAppHandler(health HealthChecker) *AppHandler {
	return &AppHandler{health: health}
}

// Health はDB疎通を確認する。
// GET /health
func (h *AppHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Menu はアプリ下部メニューを返す。
// GET /menu
func (h *AppHandler) Menu(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, bottomMenu)
}

type profileResponse struct {
	Section string `json:"section"`
	accountResponse
}

// Profile は認証済みアカウントのプロフィール概要を返す。
// セッションミドルウェアの内側で使用する。
// GET /profile
func (h *AppHandler) Profile(w http.ResponseWriter, r *http.Request) {
	account, err := middleware.AccountFromContext(r.Context())
	if err != nil {
		slog.Error("profile requested without session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		Section:         "profile",
		accountResponse: toAccountResponse(account),
	})
}
