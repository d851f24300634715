package tetris

import (
	"errors"
	"fmt"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/models/tetris"
)

// ErrInvalidClearDelay はラインクリア待ち時間が負の場合に返されます。
var ErrInvalidClearDelay = errors.New("clear delay must not be negative")

// Status はゲームの進行状態です。
type Status string

const (
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusGameOver Status = "game_over"
)

// Options はゲーム状態の生成パラメータです。ゼロ値のフィールドには既定値が使われます。
type Options struct {
	Width      int           // ボードの幅（0なら10）
	Height     int           // ボードの高さ（0なら20）
	Board      tetris.Board  // 初期配置。nilなら空のボード
	ClearDelay time.Duration // ラインクリア演出の待ち時間（0なら300ms）
	Randomizer Randomizer    // nilなら現在時刻をシードにした乱数
	Scheduler  Scheduler     // nilなら ManualScheduler
}

// PlayerGameState は単一プレイヤーのテトリスゲーム状態です。
// 並行呼び出しには対応していません。呼び出し側（ドライバ）が操作を直列化します。
type PlayerGameState struct {
	UserID string

	opts          Options
	board         tetris.Board  // 固定済みブロックのみのボード
	current       *tetris.Piece // 現在操作中のテトリミノ。クリア演出中とゲームオーバー後はnil
	next          *tetris.Piece // 次に出現するテトリミノ
	status        Status
	score         int
	linesCleared  int
	clearingRows  []int // 消去演出中の行
	softDrop      bool
	rng           Randomizer
	scheduler     Scheduler
	cancelPending func()
	generation    uint64 // Restartのたびに増加し、古い遅延処理を無効化する
}

// NewPlayerGameState は新しいプレイヤーのゲーム状態を初期化して返します。
// 不正なボードサイズや初期配置は、ゲーム開始前にエラーとして返します。
//
// Parameters:
//
//	userID : プレイヤーのユーザーID
//	opts   : ボードサイズ、乱数源、スケジューラなど
//
// Returns:
//
//	*PlayerGameState: 初期化されたゲーム状態のポインタ
//	error: パラメータが不正な場合
func NewPlayerGameState(userID string, opts Options) (*PlayerGameState, error) {
	if opts.Board != nil {
		if err := tetris.ValidateBoard(opts.Board); err != nil {
			return nil, fmt.Errorf("初期ボードが不正です: %w", err)
		}
		opts.Width, opts.Height = opts.Board.Width(), opts.Board.Height()
	}
	if opts.Width == 0 {
		opts.Width = tetris.BoardWidth
	}
	if opts.Height == 0 {
		opts.Height = tetris.BoardHeight
	}
	if _, err := tetris.NewBoard(opts.Width, opts.Height); err != nil {
		return nil, err
	}
	if opts.ClearDelay < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidClearDelay, opts.ClearDelay)
	}
	if opts.ClearDelay == 0 {
		opts.ClearDelay = DefaultClearDelay
	}
	if opts.Randomizer == nil {
		opts.Randomizer = NewRandomizer(time.Now().UnixNano())
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewManualScheduler()
	}

	state := &PlayerGameState{
		UserID:    userID,
		opts:      opts,
		rng:       opts.Randomizer,
		scheduler: opts.Scheduler,
	}
	state.reset()
	return state, nil
}

// reset はボード・スコア・ピースを初期状態に戻し、最初のピースを生成します。
func (s *PlayerGameState) reset() {
	if s.opts.Board != nil {
		s.board = s.opts.Board.Clone()
	} else {
		s.board, _ = tetris.NewBoard(s.opts.Width, s.opts.Height)
	}
	s.status = StatusRunning
	s.score = 0
	s.linesCleared = 0
	s.clearingRows = nil
	s.softDrop = false
	s.current = nil
	s.next = s.randomPiece()
	s.SpawnNewPiece()
}

// randomPiece は7種類から一様ランダムに選んだピースを返します。
// 7-bagのような偏り防止は行わないため、同じ種類が続くこともあります。
func (s *PlayerGameState) randomPiece() *tetris.Piece {
	pieceType := tetris.PieceType(s.rng.Intn(tetris.PieceTypeCount))
	return tetris.NewPiece(pieceType, s.board.Width())
}

// SpawnNewPiece は次のピースを現在のピースにし、新しい次のピースを抽選します。
// 新しいピースがスポーン位置で既に衝突している場合はゲームオーバーになり、ピースは配置されません。
func (s *PlayerGameState) SpawnNewPiece() {
	candidate := s.next
	s.next = s.randomPiece()

	if s.board.Collides(candidate) {
		s.current = nil
		s.status = StatusGameOver
		s.softDrop = false
		return
	}
	s.current = candidate
}

// canControl は現在のピースを操作できる状態かどうかを返します。
func (s *PlayerGameState) canControl() bool {
	return s.status == StatusRunning && s.current != nil
}

// tryReplace は候補のピースが衝突しなければ現在のピースと置き換えます。
func (s *PlayerGameState) tryReplace(candidate *tetris.Piece) bool {
	if s.board.Collides(candidate) {
		return false
	}
	s.current = candidate
	return true
}

// Tick は重力による1段の落下を行います。落下できなければ着地処理を行います。
//
// Returns:
//
//	bool: 状態が変化した場合はtrue
func (s *PlayerGameState) Tick() bool {
	if !s.canControl() {
		return false
	}
	if s.tryReplace(s.current.Translated(0, 1)) {
		return true
	}
	s.land()
	return true
}

// MoveHorizontal は現在のピースを左右に1マス移動させます。dx は -1 か 1 です。
func (s *PlayerGameState) MoveHorizontal(dx int) bool {
	if !s.canControl() || (dx != -1 && dx != 1) {
		return false
	}
	return s.tryReplace(s.current.Translated(dx, 0))
}

// Rotate は現在のピースを時計回りに回転させます。衝突する場合は回転しません（壁蹴りなし）。
func (s *PlayerGameState) Rotate() bool {
	if !s.canControl() {
		return false
	}
	return s.tryReplace(s.current.Rotated())
}

// SetSoftDrop はソフトドロップの有無を切り替えます。
// ピースやボードには触れず、落下間隔 (DropInterval) だけが変わります。
func (s *PlayerGameState) SetSoftDrop(on bool) bool {
	if s.status != StatusRunning || s.softDrop == on {
		return false
	}
	s.softDrop = on
	return true
}

// HardDrop はピースを落とせるところまで一気に落とし、そのまま着地処理を行います。
func (s *PlayerGameState) HardDrop() bool {
	if !s.canControl() {
		return false
	}
	for {
		moved := s.current.Translated(0, 1)
		if s.board.Collides(moved) {
			break
		}
		s.current = moved
	}
	s.land()
	return true
}

// Pause はゲームを一時停止します。ソフトドロップも解除されます。
func (s *PlayerGameState) Pause() bool {
	if s.status != StatusRunning {
		return false
	}
	s.status = StatusPaused
	s.softDrop = false
	return true
}

// Resume は一時停止中のゲームを再開します。
func (s *PlayerGameState) Resume() bool {
	if s.status != StatusPaused {
		return false
	}
	s.status = StatusRunning
	return true
}

// Restart は新しいセッションとしてゲームをやり直します。保留中のラインクリア処理は破棄されます。
func (s *PlayerGameState) Restart() {
	if s.cancelPending != nil {
		s.cancelPending()
		s.cancelPending = nil
	}
	s.generation++
	s.reset()
}

// land は現在のピースをボードに固定し、揃った行があれば消去演出の後に消去をスケジュールします。
// 揃った行がなければすぐに次のピースを生成します。
func (s *PlayerGameState) land() {
	s.board = s.board.Merge(s.current)
	s.current = nil

	fullRows := s.board.FullRows()
	if len(fullRows) == 0 {
		s.SpawnNewPiece()
		return
	}

	s.clearingRows = fullRows
	generation := s.generation
	s.cancelPending = s.scheduler.Schedule(s.opts.ClearDelay, func() {
		s.resolveClear(generation)
	})
}

// resolveClear は消去演出が終わった行を取り除き、スコアとレベルを更新して次のピースを生成します。
func (s *PlayerGameState) resolveClear(generation uint64) {
	if generation != s.generation || len(s.clearingRows) == 0 {
		return // Restart 済み、または処理済み
	}
	rows := s.clearingRows
	s.board = s.board.ClearRows(rows)
	s.score += CalculateScore(len(rows))
	s.linesCleared += len(rows)
	s.clearingRows = nil
	s.cancelPending = nil
	s.SpawnNewPiece()
}

// Status は現在の進行状態を返します。
func (s *PlayerGameState) Status() Status { return s.status }

// IsGameOver はゲームオーバーかどうかを返します。
func (s *PlayerGameState) IsGameOver() bool { return s.status == StatusGameOver }

// IsClearing はライン消去演出中かどうかを返します。
func (s *PlayerGameState) IsClearing() bool { return len(s.clearingRows) > 0 }

// Score は現在のスコアを返します。
func (s *PlayerGameState) Score() int { return s.score }

// LinesCleared は累計クリアライン数を返します。
func (s *PlayerGameState) LinesCleared() int { return s.linesCleared }

// Level は現在のレベルを返します。
func (s *PlayerGameState) Level() int { return LevelForLines(s.linesCleared) }

// SoftDrop はソフトドロップ中かどうかを返します。
func (s *PlayerGameState) SoftDrop() bool { return s.softDrop }

// DropInterval はドライバが次に自動落下を呼ぶまでの間隔を返します。
// レベルとソフトドロップの状態が変わるたびに値が変わるため、ドライバは操作のたびに読み直します。
func (s *PlayerGameState) DropInterval() time.Duration {
	if s.softDrop {
		return SoftDropInterval
	}
	return GetFallInterval(s.Level())
}

// Board は固定済みブロックのみのボードのコピーを返します。
func (s *PlayerGameState) Board() tetris.Board { return s.board.Clone() }

// CurrentPiece は現在のピースのコピーを返します。存在しなければnilです。
func (s *PlayerGameState) CurrentPiece() *tetris.Piece {
	if s.current == nil {
		return nil
	}
	return s.current.Clone()
}

// NextPiece は次のピースのコピーを返します。
func (s *PlayerGameState) NextPiece() *tetris.Piece {
	if s.next == nil {
		return nil
	}
	return s.next.Clone()
}

// Snapshot は描画などの外部コンポーネントに渡す読み取り専用の状態です。
type Snapshot struct {
	Grid           tetris.Board  `json:"grid"`             // ボード + 現在のピース
	ClearingRows   []int         `json:"clearing_rows"`    // 消去演出中の行
	CurrentPiece   *tetris.Piece `json:"current_piece"`    // 現在のピース（なければnull）
	NextPiece      *tetris.Piece `json:"next_piece"`       // 次のピース（プレビュー用）
	Score          int           `json:"score"`            // 現在のスコア
	LinesCleared   int           `json:"lines_cleared"`    // クリアしたライン数
	Level          int           `json:"level"`            // 現在のレベル
	Status         Status        `json:"status"`           // running / paused / game_over
	IsRunning      bool          `json:"is_running"`       // 実行中かどうか
	IsPaused       bool          `json:"is_paused"`        // 一時停止中かどうか
	IsGameOver     bool          `json:"is_game_over"`     // ゲームオーバー状態かどうか
	SoftDrop       bool          `json:"soft_drop"`        // ソフトドロップ中かどうか
	DropIntervalMs int64         `json:"drop_interval_ms"` // 自動落下間隔（ミリ秒）
}

// Snapshot は現在の状態のスナップショットを返します。返り値は内部状態と共有しません。
func (s *PlayerGameState) Snapshot() Snapshot {
	return Snapshot{
		Grid:           s.board.Merge(s.current),
		ClearingRows:   append([]int{}, s.clearingRows...),
		CurrentPiece:   s.CurrentPiece(),
		NextPiece:      s.NextPiece(),
		Score:          s.score,
		LinesCleared:   s.linesCleared,
		Level:          s.Level(),
		Status:         s.status,
		IsRunning:      s.status == StatusRunning,
		IsPaused:       s.status == StatusPaused,
		IsGameOver:     s.status == StatusGameOver,
		SoftDrop:       s.softDrop,
		DropIntervalMs: s.DropInterval().Milliseconds(),
	}
}
