package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/services/tetris"
)

const authTimeout = 10 * time.Second // WebSocket接続後、認証メッセージを待つ時間

// GameHandler はゲーム関連のHTTPリクエスト（セッション作成、操作、WebSocket接続）を処理します。
type GameHandler struct {
	sessionManager *tetris.SessionManager // ゲームセッションの管理サービス
	auth           *middleware.Authenticator
	upgrader       websocket.Upgrader
	logger         *zap.Logger
}

// NewGameHandler は新しい GameHandler インスタンスを作成します。
//
// Parameters:
//
//	sm             : セッションマネージャーへのポインタ
//	auth           : WebSocketの認証メッセージを検証する Authenticator
//	allowedOrigins : WebSocket接続を許可するOrigin（"*" ですべて許可）
//	logger         : ロガー
func NewGameHandler(sm *tetris.SessionManager, auth *middleware.Authenticator, allowedOrigins []string, logger *zap.Logger) *GameHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameHandler{
		sessionManager: sm,
		auth:           auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// ブラウザ以外のクライアントは Origin を送らない
		return origin == "" || set["*"] || set[origin]
	}
}

// WriteErrorResponse はエラーレスポンスをJSON形式で書き込みます。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WriteJSONResponse はJSONレスポンスを書き込みます。
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeSessionError はセッション操作のエラーを HTTP ステータスに変換して書き込みます。
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tetris.ErrSessionNotFound):
		WriteErrorResponse(w, http.StatusNotFound, "指定されたセッションは見つかりませんでした")
	case errors.Is(err, tetris.ErrNotSessionOwner):
		WriteErrorResponse(w, http.StatusForbidden, "このセッションを操作する権限がありません")
	case errors.Is(err, tetris.ErrUnknownAction):
		WriteErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tetris.ErrSessionClosed):
		WriteErrorResponse(w, http.StatusGone, "セッションは終了しています")
	default:
		WriteErrorResponse(w, http.StatusInternalServerError, "内部エラーが発生しました")
	}
}

// sessionResponse はセッション作成・操作のレスポンスです。
type sessionResponse struct {
	SessionID string          `json:"session_id"`
	Changed   *bool           `json:"changed,omitempty"`
	State     tetris.Snapshot `json:"state"`
}

// CreateSession は新しいゲームセッションを作成するためのHTTPハンドラーです。
// POST /api/protected/sessions
func (h *GameHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	session, err := h.sessionManager.CreateSession(userID)
	if err != nil {
		h.logger.Error("[GameHandler] Failed to create session", zap.String("user_id", userID), zap.Error(err))
		WriteErrorResponse(w, http.StatusInternalServerError, "セッションの作成に失敗しました")
		return
	}

	WriteJSONResponse(w, http.StatusCreated, sessionResponse{
		SessionID: session.ID,
		State:     session.Snapshot(),
	})
}

// GetSession はセッションの現在の状態を返すハンドラーです。
// GET /api/protected/sessions/{sessionID}
func (h *GameHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}
	sessionID := mux.Vars(r)["sessionID"]

	snap, err := h.sessionManager.Snapshot(sessionID, userID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, sessionResponse{SessionID: sessionID, State: snap})
}

// SubmitInput は1つの操作をセッションに適用するハンドラーです。
// POST /api/protected/sessions/{sessionID}/input  body: {"action": "move_left"}
func (h *GameHandler) SubmitInput(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}
	sessionID := mux.Vars(r)["sessionID"]

	var req tetris.PlayerInputEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "リクエストボディのパースに失敗しました")
		return
	}
	if req.Action == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "actionが必要です")
		return
	}

	snap, changed, err := h.sessionManager.ApplyInput(r.Context(), sessionID, userID, req.Action)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, sessionResponse{SessionID: sessionID, Changed: &changed, State: snap})
}

// EndSession はセッションを終了するハンドラーです。
// DELETE /api/protected/sessions/{sessionID}
func (h *GameHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}
	sessionID := mux.Vars(r)["sessionID"]

	if err := h.sessionManager.EndSession(sessionID, userID); err != nil {
		writeSessionError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"session_id": sessionID, "message": "セッションを終了しました"})
}

// authMessage は WebSocket 接続直後にクライアントが送る認証メッセージです。
type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// HandleWebSocketConnection はHTTP接続をWebSocketプロトコルにアップグレードし、
// 認証メッセージを検証した後、接続をセッションマネージャーに引き渡します。
// GET /ws/sessions/{sessionID}
func (h *GameHandler) HandleWebSocketConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	if _, err := h.sessionManager.GetSession(sessionID); err != nil {
		writeSessionError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[GameHandler] Failed to upgrade to websocket", zap.String("session_id", sessionID), zap.Error(err))
		return // Upgrade がエラーレスポンスを書き込み済み
	}

	reject := func(message string) {
		conn.WriteJSON(tetris.ServerMessage{Type: "error", SessionID: sessionID, Error: message})
		conn.Close()
	}

	// 認証メッセージを待つ
	conn.SetReadDeadline(time.Now().Add(authTimeout))
	var msg authMessage
	if err := conn.ReadJSON(&msg); err != nil {
		h.logger.Debug("[GameHandler] Failed to read auth message", zap.Error(err))
		reject("Expected auth message")
		return
	}
	if msg.Type != "auth" {
		reject("Expected auth message")
		return
	}
	userID, err := h.auth.Authenticate(msg.Token)
	if err != nil {
		h.logger.Debug("[GameHandler] WebSocket authentication failed", zap.Error(err))
		reject("Invalid token")
		return
	}
	conn.SetReadDeadline(time.Time{})

	if err := conn.WriteJSON(map[string]string{"type": "auth_success", "session_id": sessionID}); err != nil {
		conn.Close()
		return
	}

	// 以降の送受信は SessionManager の readPump / writePump が担当する
	if err := h.sessionManager.RegisterClient(sessionID, userID, conn); err != nil {
		h.logger.Info("[GameHandler] Failed to register client",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		reject(err.Error())
	}
}
