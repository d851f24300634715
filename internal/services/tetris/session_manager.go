package tetris

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/metrics"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotSessionOwner = errors.New("session belongs to another user")
	ErrSessionClosed   = errors.New("session is closed")
	ErrUnknownAction   = errors.New("unknown action")
)

const (
	eventBufferSize = 64
	sendBufferSize  = 64
	readLimit       = 1024             // クライアントからの1メッセージの最大サイズ
	writeWait       = 10 * time.Second // 1回の書き込みのタイムアウト
	pongWait        = 60 * time.Second // Pongを待つ時間
	pingPeriod      = pongWait * 9 / 10
)

// セッション削除の理由（メトリクスのラベル）
const (
	EndReasonClosed   = "closed"
	EndReasonIdle     = "idle"
	EndReasonGameOver = "game_over"
	EndReasonShutdown = "shutdown"
)

// Client はWebSocket接続を持つ単一のクライアントを表します。
type Client struct {
	UserID    string          // このクライアントに紐づくユーザーのID
	SessionID string          // 接続先のセッションID
	Conn      *websocket.Conn // クライアントとの実際のWebSocketコネクション
	Send      chan []byte     // クライアントへメッセージを送信するためのバッファ付きチャネル
	limiter   *rate.Limiter   // 入力のレート制限
	closed    bool            // チャネルが閉じられたかどうかのフラグ
	mu        sync.Mutex      // closedフラグ保護用
}

// SafeSend は安全にチャネルにメッセージを送信します（closedチェック付き）
func (c *Client) SafeSend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false // 既に閉じられている
	}

	select {
	case c.Send <- message:
		return true
	default:
		return false // チャネルがフル
	}
}

// SafeClose は安全にチャネルを閉じます
func (c *Client) SafeClose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.Send)
		c.closed = true
	}
}

// PlayerInputEvent はクライアントから送られてくる操作メッセージです。
type PlayerInputEvent struct {
	UserID string `json:"-"`
	Action string `json:"action"`
}

// ServerMessage はサーバーからクライアントへ送るメッセージです。
type ServerMessage struct {
	Type      string    `json:"type"` // "state" または "error"
	SessionID string    `json:"session_id"`
	State     *Snapshot `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ManagerOptions は SessionManager の設定です。ゼロ値のフィールドには既定値が使われます。
type ManagerOptions struct {
	ClearDelay      time.Duration     // ラインクリア演出の待ち時間
	InputRate       float64           // クライアントごとの1秒あたりの入力上限
	InputBurst      int               // 入力のバースト許容数
	IdleTimeout     time.Duration     // クライアント不在のセッションを削除するまでの時間
	JanitorInterval time.Duration     // 0 なら定期掃除を行わない
	NewRandomizer   func() Randomizer // セッションごとの乱数源
	Logger          *zap.Logger
	Metrics         *metrics.Collector
}

func (o *ManagerOptions) setDefaults() {
	if o.ClearDelay == 0 {
		o.ClearDelay = DefaultClearDelay
	}
	if o.InputRate <= 0 {
		o.InputRate = 30
	}
	if o.InputBurst <= 0 {
		o.InputBurst = 10
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Minute
	}
	if o.NewRandomizer == nil {
		o.NewRandomizer = func() Randomizer { return NewRandomizer(time.Now().UnixNano()) }
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// sessionEvent はセッションのループに渡される1件の処理です。
type sessionEvent struct {
	action   string           // プレイヤー操作
	deferred func()           // スケジューラから戻ってきた遅延処理
	reply    chan inputResult // 呼び出し元が結果を待つ場合のみ
}

type inputResult struct {
	snapshot Snapshot
	changed  bool
}

// GameSession は1人のプレイヤーのゲームを動かすセッションです。
// ゲーム状態は run ゴルーチンだけが触り、入力・自動落下・遅延処理はすべてそこで直列化されます。
type GameSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	state     *PlayerGameState
	events    chan sessionEvent
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	mu         sync.RWMutex // snapshot, lastActive, client を保護
	snapshot   Snapshot
	lastActive time.Time
	client     *Client

	logger  *zap.Logger
	metrics *metrics.Collector
}

// loopScheduler は遅延処理をタイマーで待ち、セッションのループに戻して実行させます。
type loopScheduler struct {
	session *GameSession
}

func (l loopScheduler) Schedule(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, func() {
		l.session.post(context.Background(), sessionEvent{deferred: fn})
	})
	return func() { timer.Stop() }
}

func newGameSession(id, userID string, opts ManagerOptions) (*GameSession, error) {
	now := time.Now()
	s := &GameSession{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		events:     make(chan sessionEvent, eventBufferSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		lastActive: now,
		logger:     opts.Logger.With(zap.String("session_id", id), zap.String("user_id", userID)),
		metrics:    opts.Metrics,
	}

	state, err := NewPlayerGameState(userID, Options{
		ClearDelay: opts.ClearDelay,
		Randomizer: opts.NewRandomizer(),
		Scheduler:  loopScheduler{session: s},
	})
	if err != nil {
		return nil, err
	}
	s.state = state
	s.snapshot = state.Snapshot()

	go s.run()
	return s, nil
}

// run はセッションのメインループです。
// 処理のたびに落下間隔と状態を読み直し、自動落下のタイマーを張り直すか止めます。
func (s *GameSession) run() {
	defer close(s.stopped)

	var (
		ticker   *time.Ticker
		tickC    <-chan time.Time
		interval time.Duration
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	defer stopTicker()

	rearm := func() {
		// 一時停止・ゲームオーバー・消去演出中は落下させない
		if s.state.Status() != StatusRunning || s.state.IsClearing() {
			stopTicker()
			return
		}
		want := s.state.DropInterval()
		if ticker == nil {
			ticker = time.NewTicker(want)
			tickC = ticker.C
		} else if want != interval {
			ticker.Reset(want)
		}
		interval = want
	}
	rearm()

	for {
		select {
		case <-s.done:
			return

		case <-tickC:
			if s.state.Tick() {
				s.publish()
			}
			rearm()

		case ev := <-s.events:
			changed := s.handle(ev)
			if changed {
				s.publish()
			}
			rearm()
			if ev.reply != nil {
				ev.reply <- inputResult{snapshot: s.Snapshot(), changed: changed}
			}
		}
	}
}

func (s *GameSession) handle(ev sessionEvent) bool {
	if ev.deferred != nil {
		ev.deferred()
		return true
	}

	s.touch()
	changed := ApplyPlayerInput(s.state, ev.action)
	if changed {
		s.metrics.Input(ev.action, metrics.InputApplied)
	} else {
		s.metrics.Input(ev.action, metrics.InputRejected)
	}
	if ev.action == ActionNewSession {
		s.logger.Info("[GameSession] Restarted")
	}
	return changed
}

// publish は最新のスナップショットを保存し、接続中のクライアントに送信します。
func (s *GameSession) publish() {
	snap := s.state.Snapshot()

	s.mu.Lock()
	prev := s.snapshot
	s.snapshot = snap
	client := s.client
	s.mu.Unlock()

	if snap.LinesCleared > prev.LinesCleared {
		s.metrics.LinesCleared(snap.LinesCleared - prev.LinesCleared)
	}
	if snap.IsGameOver && !prev.IsGameOver {
		s.metrics.GameOver()
		s.logger.Info("[GameSession] Game over",
			zap.Int("score", snap.Score),
			zap.Int("lines_cleared", snap.LinesCleared),
			zap.Int("level", snap.Level),
		)
	}
	if client != nil {
		s.sendState(client, snap)
	}
}

func (s *GameSession) sendState(client *Client, snap Snapshot) {
	message, err := json.Marshal(ServerMessage{Type: "state", SessionID: s.ID, State: &snap})
	if err != nil {
		s.logger.Error("[GameSession] Error marshaling snapshot", zap.Error(err))
		return
	}
	if !client.SafeSend(message) {
		s.logger.Debug("[GameSession] Failed to send to client (channel closed or full)")
	}
}

func (s *GameSession) sendError(client *Client, reason string) {
	message, err := json.Marshal(ServerMessage{Type: "error", SessionID: s.ID, Error: reason})
	if err != nil {
		return
	}
	client.SafeSend(message)
}

// post はループにイベントを渡します。セッションが閉じていれば false を返します。
func (s *GameSession) post(ctx context.Context, ev sessionEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// enqueue はループが詰まっていれば待たずに false を返します（WebSocketからの入力用）。
func (s *GameSession) enqueue(action string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- sessionEvent{action: action}:
		return true
	default:
		return false
	}
}

// Submit は操作をループで実行し、実行後のスナップショットを返します。
func (s *GameSession) Submit(ctx context.Context, action string) (Snapshot, bool, error) {
	reply := make(chan inputResult, 1)
	if !s.post(ctx, sessionEvent{action: action, reply: reply}) {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, false, err
		}
		return Snapshot{}, false, ErrSessionClosed
	}
	select {
	case r := <-reply:
		return r.snapshot, r.changed, nil
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	case <-s.done:
		return Snapshot{}, false, ErrSessionClosed
	}
}

// Snapshot は最後に公開されたスナップショットを返します。返り値は読み取り専用として扱ってください。
func (s *GameSession) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// HasClient はWebSocketクライアントが接続中かどうかを返します。
func (s *GameSession) HasClient() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// LastActive は最後に入力または接続があった時刻を返します。
func (s *GameSession) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *GameSession) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// attach はクライアントを接続し、置き換えられた古いクライアントを返します。
func (s *GameSession) attach(c *Client) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.client
	s.client = c
	s.lastActive = time.Now()
	return old
}

// detach は c が現在のクライアントであれば切り離して true を返します。
func (s *GameSession) detach(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != c {
		return false
	}
	s.client = nil
	s.lastActive = time.Now()
	return true
}

// expired はクライアント不在で、ゲームオーバーか一定時間操作がないセッションかどうかを判定します。
func (s *GameSession) expired(now time.Time, idleTimeout time.Duration) (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client != nil {
		return false, ""
	}
	if s.snapshot.IsGameOver {
		return true, EndReasonGameOver
	}
	if now.Sub(s.lastActive) >= idleTimeout {
		return true, EndReasonIdle
	}
	return false, ""
}

// close はループを止め、接続中のクライアントを切断します。
func (s *GameSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped

		s.mu.Lock()
		client := s.client
		s.client = nil
		s.mu.Unlock()
		if client != nil {
			client.SafeClose()
		}
	})
}

// SessionManager はゲームセッションとWebSocketクライアント接続の全体を管理します。
// これはアプリケーション内でシングルトンとして動作することが想定されます。
type SessionManager struct {
	sessions map[string]*GameSession // sessionID -> GameSession
	mu       sync.RWMutex
	opts     ManagerOptions
	logger   *zap.Logger
	metrics  *metrics.Collector
	janitor  *cron.Cron
}

// NewSessionManager は新しい SessionManager を作成し、設定されていればセッションの定期掃除を開始します。
//
// Parameters:
//
//	opts : 演出時間、入力レート、掃除間隔、ロガー、メトリクス
//
// Returns:
//
//	*SessionManager: 初期化されたセッションマネージャーのポインタ
//	error: 設定が不正な場合
func NewSessionManager(opts ManagerOptions) (*SessionManager, error) {
	if opts.ClearDelay < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidClearDelay, opts.ClearDelay)
	}
	opts.setDefaults()

	sm := &SessionManager{
		sessions: make(map[string]*GameSession),
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}

	if opts.JanitorInterval > 0 {
		sm.janitor = cron.New()
		spec := fmt.Sprintf("@every %s", opts.JanitorInterval)
		if _, err := sm.janitor.AddFunc(spec, func() { sm.SweepIdleSessions(time.Now()) }); err != nil {
			return nil, fmt.Errorf("failed to schedule session janitor: %w", err)
		}
		sm.janitor.Start()
		sm.logger.Info("[SessionManager] Session janitor started", zap.Duration("interval", opts.JanitorInterval))
	}
	return sm, nil
}

// CreateSession は新しいゲームセッションを作成し、すぐにゲームを開始します。
//
// Parameters:
//
//	userID : セッションを所有するユーザーのID
//
// Returns:
//
//	*GameSession: 作成されたセッション
//	error : エラーが発生した場合
func (sm *SessionManager) CreateSession(userID string) (*GameSession, error) {
	sessionID := uuid.New().String()
	session, err := newGameSession(sessionID, userID, sm.opts)
	if err != nil {
		sm.logger.Error("[SessionManager] Failed to create GameSession", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to create game session: %w", err)
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	sm.metrics.SessionStarted()
	sm.logger.Info("[SessionManager] Created new game session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
	return session, nil
}

// GetSession は指定されたIDのセッションを返します。
func (sm *SessionManager) GetSession(sessionID string) (*GameSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	session, ok := sm.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// sessionFor はセッションを取得し、所有者が userID であることを確認します。
func (sm *SessionManager) sessionFor(sessionID, userID string) (*GameSession, error) {
	session, err := sm.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	return session, nil
}

// Snapshot は所有者向けにセッションの現在の状態を返します。
func (sm *SessionManager) Snapshot(sessionID, userID string) (Snapshot, error) {
	session, err := sm.sessionFor(sessionID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// ApplyInput は1つの操作をセッションに適用し、適用後の状態を返します。
//
// Returns:
//
//	Snapshot: 操作後の状態
//	bool: 状態が変化したかどうか（衝突などで拒否された操作は false）
//	error: セッションが存在しない、所有者でない、未知の操作の場合
func (sm *SessionManager) ApplyInput(ctx context.Context, sessionID, userID, action string) (Snapshot, bool, error) {
	session, err := sm.sessionFor(sessionID, userID)
	if err != nil {
		return Snapshot{}, false, err
	}
	if !IsKnownAction(action) {
		sm.metrics.Input(action, metrics.InputRejected)
		return Snapshot{}, false, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return session.Submit(ctx, action)
}

// EndSession は所有者の要求でセッションを終了します。
func (sm *SessionManager) EndSession(sessionID, userID string) error {
	if _, err := sm.sessionFor(sessionID, userID); err != nil {
		return err
	}
	sm.removeSession(sessionID, EndReasonClosed)
	return nil
}

func (sm *SessionManager) removeSession(sessionID, reason string) {
	sm.mu.Lock()
	session, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()
	if !ok {
		return
	}

	session.close()
	sm.metrics.SessionEnded(reason)
	sm.logger.Info("[SessionManager] Removed session",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
		zap.Int("score", session.Snapshot().Score),
	)
}

// SweepIdleSessions はクライアント不在のまま放置されたセッションとゲームオーバーのセッションを削除し、削除した数を返します。
func (sm *SessionManager) SweepIdleSessions(now time.Time) int {
	type expiredSession struct{ id, reason string }
	var targets []expiredSession

	sm.mu.RLock()
	for id, session := range sm.sessions {
		if ok, reason := session.expired(now, sm.opts.IdleTimeout); ok {
			targets = append(targets, expiredSession{id, reason})
		}
	}
	sm.mu.RUnlock()

	for _, t := range targets {
		sm.removeSession(t.id, t.reason)
	}
	if len(targets) > 0 {
		sm.logger.Info("[SessionManager] Swept sessions", zap.Int("count", len(targets)))
	}
	return len(targets)
}

// Count は現在のセッション数を返します。
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// RegisterClient は認証済みのWebSocket接続をセッションに接続します。
// 同じセッションに既存の接続があれば置き換えます（再接続対応）。
//
// Parameters:
//
//	sessionID : 接続先のセッションID
//	userID    : 認証済みのユーザーID
//	conn      : WebSocketコネクション
func (sm *SessionManager) RegisterClient(sessionID, userID string, conn *websocket.Conn) error {
	session, err := sm.sessionFor(sessionID, userID)
	if err != nil {
		return err
	}

	client := &Client{
		UserID:    userID,
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, sendBufferSize),
		limiter:   rate.NewLimiter(rate.Limit(sm.opts.InputRate), sm.opts.InputBurst),
	}
	if old := session.attach(client); old != nil {
		sm.logger.Info("[SessionManager] Replacing existing connection", zap.String("session_id", sessionID))
		old.SafeClose()
	}
	sm.metrics.ClientConnected()

	go sm.readPump(session, client)
	go client.writePump(sm.logger)

	// 接続直後に現在の状態を送る
	session.sendState(client, session.Snapshot())
	sm.logger.Info("[SessionManager] Client registered",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
	return nil
}

// readPump はクライアントからのWebSocketメッセージを読み込み、セッションのループに渡します。
// 接続が切れた場合、実行中のゲームは一時停止されます。
func (sm *SessionManager) readPump(session *GameSession, client *Client) {
	logger := sm.logger.With(zap.String("session_id", session.ID), zap.String("user_id", client.UserID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[SessionManager] Panic in readPump", zap.Any("panic", r))
		}
		sm.metrics.ClientDisconnected()
		if session.detach(client) && session.enqueue(ActionPause) {
			logger.Info("[SessionManager] Client left, pausing game")
		}
		client.SafeClose()
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(readLimit)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("[SessionManager] WebSocket unexpected close error", zap.Error(err))
			} else {
				logger.Debug("[SessionManager] WebSocket closed", zap.Error(err))
			}
			return
		}
		if len(message) == 0 {
			continue
		}

		var inputEvent PlayerInputEvent
		if err := json.Unmarshal(message, &inputEvent); err != nil {
			logger.Debug("[SessionManager] Failed to unmarshal input message", zap.Error(err))
			session.sendError(client, "invalid message")
			continue
		}
		inputEvent.UserID = client.UserID

		if !IsKnownAction(inputEvent.Action) {
			sm.metrics.Input(inputEvent.Action, metrics.InputRejected)
			session.sendError(client, "unknown action")
			continue
		}
		if !client.limiter.Allow() {
			sm.metrics.Input(inputEvent.Action, metrics.InputDropped)
			continue
		}
		if !session.enqueue(inputEvent.Action) {
			sm.metrics.Input(inputEvent.Action, metrics.InputDropped)
			logger.Warn("[SessionManager] Input queue is full, dropping message", zap.String("action", inputEvent.Action))
		}
	}
}

// writePump は Client の Send チャネルからのメッセージをWebSocketコネクションに書き込みます。
// クライアントごとにこのゴルーチンが動作します。
func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// セッション側がチャネルを閉じた
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("[Client] Error writing message", zap.String("user_id", c.UserID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("[Client] Error sending ping", zap.String("user_id", c.UserID), zap.Error(err))
				return
			}
		}
	}
}

// Shutdown はSessionManagerを安全にシャットダウンします
func (sm *SessionManager) Shutdown() {
	sm.logger.Info("[SessionManager] シャットダウン開始...")

	if sm.janitor != nil {
		<-sm.janitor.Stop().Done()
	}

	sm.mu.RLock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.RUnlock()

	for _, id := range ids {
		sm.removeSession(id, EndReasonShutdown)
	}
	sm.logger.Info("[SessionManager] シャットダウン完了")
}
