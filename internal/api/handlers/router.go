package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/metrics"
	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/services/tetris"
)

// RouterDeps はルーターの構築に必要な依存関係です。
type RouterDeps struct {
	SessionManager *tetris.SessionManager
	Auth           *middleware.Authenticator
	AllowedOrigins []string
	Metrics        *metrics.Collector
	Logger         *zap.Logger
}

// NewRouter は全エンドポイントを登録したハンドラーを返します。
func NewRouter(deps RouterDeps) http.Handler {
	gameHandler := NewGameHandler(deps.SessionManager, deps.Auth, deps.AllowedOrigins, deps.Logger)
	publicHandler := NewPublicHandler(deps.SessionManager)

	r := mux.NewRouter()
	if deps.Logger != nil {
		r.Use(middleware.RequestLogger(deps.Logger))
	}

	// 認証不要な公開エンドポイント
	r.HandleFunc("/api/public/health", publicHandler.Health).Methods("GET")
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods("GET")
	}

	// WebSocketは接続後の認証メッセージで認証する
	r.HandleFunc("/ws/sessions/{sessionID}", gameHandler.HandleWebSocketConnection).Methods("GET")

	// /api/protected/ で始まる全てのパスにAuthMiddlewareを適用
	protectedRouter := r.PathPrefix("/api/protected").Subrouter()
	protectedRouter.Use(deps.Auth.Middleware)
	protectedRouter.HandleFunc("/sessions", gameHandler.CreateSession).Methods("POST")
	protectedRouter.HandleFunc("/sessions/{sessionID}", gameHandler.GetSession).Methods("GET")
	protectedRouter.HandleFunc("/sessions/{sessionID}/input", gameHandler.SubmitInput).Methods("POST")
	protectedRouter.HandleFunc("/sessions/{sessionID}", gameHandler.EndSession).Methods("DELETE")

	var handler http.Handler = r
	if deps.Metrics != nil {
		handler = deps.Metrics.InstrumentHandler(handler)
	}
	return middleware.CORSHandler(deps.AllowedOrigins)(handler)
}
