package tetris

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/models/tetris"
)

// sequenceRandomizer は決められた順にピース種類を返すテスト用の乱数源です。
// 列を使い切った後は最後の値を返し続けます。
type sequenceRandomizer struct {
	seq []tetris.PieceType
	pos int
}

func (r *sequenceRandomizer) Intn(n int) int {
	if len(r.seq) == 0 {
		return 0
	}
	v := r.seq[r.pos]
	if r.pos < len(r.seq)-1 {
		r.pos++
	}
	return int(v) % n
}

func pieces(types ...tetris.PieceType) *sequenceRandomizer {
	return &sequenceRandomizer{seq: types}
}

func newTestState(t *testing.T, rng Randomizer, board tetris.Board) (*PlayerGameState, *ManualScheduler) {
	t.Helper()
	sched := NewManualScheduler()
	state, err := NewPlayerGameState("test-user", Options{
		Board:      board,
		Randomizer: rng,
		Scheduler:  sched,
	})
	require.NoError(t, err)
	return state, sched
}

func filledRow(block tetris.BlockType, holes ...int) []tetris.BlockType {
	row := make([]tetris.BlockType, tetris.BoardWidth)
	for x := range row {
		row[x] = block
	}
	for _, h := range holes {
		row[h] = tetris.BlockEmpty
	}
	return row
}

func TestNewPlayerGameState(t *testing.T) {
	state, sched := newTestState(t, pieces(tetris.TypeT, tetris.TypeL), nil)

	assert.Equal(t, "test-user", state.UserID)
	assert.Equal(t, 0, state.Score())
	assert.Equal(t, 0, state.LinesCleared())
	assert.Equal(t, 1, state.Level())
	assert.Equal(t, StatusRunning, state.Status())
	assert.False(t, state.IsGameOver())
	assert.Equal(t, 0, sched.Pending())

	require.NotNil(t, state.CurrentPiece())
	require.NotNil(t, state.NextPiece())
	assert.Equal(t, tetris.TypeT, state.CurrentPiece().Type)
	assert.Equal(t, tetris.TypeL, state.NextPiece().Type)
	assert.Equal(t, 3, state.CurrentPiece().X)
	assert.Equal(t, 0, state.CurrentPiece().Y)

	board := state.Board()
	assert.Equal(t, tetris.BoardHeight, board.Height())
	assert.Equal(t, tetris.BoardWidth, board.Width())
}

func TestNewPlayerGameState_FailsFast(t *testing.T) {
	_, err := NewPlayerGameState("u", Options{Width: -1, Height: 20})
	assert.ErrorIs(t, err, tetris.ErrInvalidDimensions)

	_, err = NewPlayerGameState("u", Options{Width: 10, Height: -5})
	assert.ErrorIs(t, err, tetris.ErrInvalidDimensions)

	_, err = NewPlayerGameState("u", Options{ClearDelay: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidClearDelay)

	bad := tetris.NewDefaultBoard()
	bad[0][0] = 9
	_, err = NewPlayerGameState("u", Options{Board: bad})
	assert.ErrorIs(t, err, tetris.ErrInvalidBoard)
}

func TestNewPlayerGameState_CustomSize(t *testing.T) {
	state, err := NewPlayerGameState("u", Options{Width: 16, Height: 30, Randomizer: pieces(tetris.TypeO)})
	require.NoError(t, err)
	assert.Equal(t, 16, state.Board().Width())
	assert.Equal(t, 30, state.Board().Height())
	assert.Equal(t, 6, state.CurrentPiece().X)
}

// Scenario A: 空のボードで I ミノを19回落とすと y=19 に到達し、次の落下で固定される。
func TestTick_IPieceFallsToBottom(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeI, tetris.TypeO), nil)

	for i := 0; i < 19; i++ {
		require.True(t, state.Tick())
	}
	require.NotNil(t, state.CurrentPiece())
	assert.Equal(t, 19, state.CurrentPiece().Y)
	assert.Equal(t, 3, state.CurrentPiece().X)

	grid := state.Snapshot().Grid
	assert.Equal(t, []tetris.BlockType{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}, []tetris.BlockType(grid[19]))
	// 固定前なので確定ボードはまだ空
	assert.Equal(t, tetris.NewDefaultBoard(), state.Board())

	// 20回目で着地
	require.True(t, state.Tick())
	board := state.Board()
	assert.Equal(t, []tetris.BlockType{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}, []tetris.BlockType(board[19]))
	assert.Equal(t, tetris.TypeO, state.CurrentPiece().Type)
	assert.Equal(t, 0, state.CurrentPiece().Y)
}

// Scenario B: 5行目の0列目だけ空いたボードに O ミノを落とすと5行目だけが消去対象になる。
func TestTick_SingleRowMarkedClearing(t *testing.T) {
	board := tetris.NewDefaultBoard()
	board[5] = filledRow(tetris.BlockJ, 0, 1)
	board[6] = filledRow(tetris.BlockL, 0, 1, 5)
	board[7] = filledRow(tetris.BlockS, 9)

	state, sched := newTestState(t, pieces(tetris.TypeO, tetris.TypeT), board)
	require.True(t, state.MoveHorizontal(-1))
	require.True(t, state.MoveHorizontal(-1))
	require.True(t, state.MoveHorizontal(-1))
	assert.Equal(t, 0, state.CurrentPiece().X)
	assert.False(t, state.MoveHorizontal(-1))

	for state.CurrentPiece() != nil {
		require.True(t, state.Tick())
	}

	assert.Equal(t, []int{5}, state.Snapshot().ClearingRows)
	assert.True(t, state.IsClearing())
	assert.Equal(t, 1, sched.Pending())
	assert.Equal(t, DefaultClearDelay, sched.LastDelay())

	// 演出中はスコアも行も変わらない
	assert.Equal(t, 0, state.Score())
	assert.True(t, state.Board().IsRowFull(5))

	sched.RunPending()
	assert.False(t, state.IsClearing())
	assert.Empty(t, state.Snapshot().ClearingRows)
	assert.Equal(t, 100, state.Score())
	assert.Equal(t, 1, state.LinesCleared())

	after := state.Board()
	assert.Equal(t, []tetris.BlockType(tetris.NewDefaultBoard()[0]), []tetris.BlockType(after[0]))
	// 6行目はそのまま残る（O ミノの下段が 0,1 列を埋めた）
	assert.Equal(t, tetris.BlockO, after[6][0])
	assert.Equal(t, tetris.BlockEmpty, after[6][5])
	require.NotNil(t, state.CurrentPiece())
	assert.Equal(t, tetris.TypeT, state.CurrentPiece().Type)
}

func TestTick_TwoRowsMarkedClearing(t *testing.T) {
	board := tetris.NewDefaultBoard()
	board[5] = filledRow(tetris.BlockJ, 0, 1)
	board[6] = filledRow(tetris.BlockL, 0, 1)
	board[7] = filledRow(tetris.BlockS, 9)

	state, sched := newTestState(t, pieces(tetris.TypeO, tetris.TypeT), board)
	for i := 0; i < 3; i++ {
		state.MoveHorizontal(-1)
	}
	require.True(t, state.HardDrop())

	assert.Equal(t, []int{5, 6}, state.Snapshot().ClearingRows)
	sched.RunPending()
	assert.Equal(t, 200, state.Score())
	assert.Equal(t, 2, state.LinesCleared())
}

// Scenario C: スポーン位置が既に埋まっていればゲームオーバーになり、以後の操作は状態を変えない。
func TestSpawnCollision_GameOver(t *testing.T) {
	board := tetris.NewDefaultBoard()
	for y := 0; y < 2; y++ {
		board[y] = filledRow(tetris.BlockZ, 0)
	}

	state, sched := newTestState(t, pieces(tetris.TypeT), board)
	assert.True(t, state.IsGameOver())
	assert.Equal(t, StatusGameOver, state.Status())
	assert.Nil(t, state.CurrentPiece())

	before := state.Snapshot()
	assert.False(t, state.Tick())
	assert.False(t, state.MoveHorizontal(1))
	assert.False(t, state.Rotate())
	assert.False(t, state.HardDrop())
	assert.False(t, state.SetSoftDrop(true))
	assert.False(t, state.Pause())
	assert.False(t, state.Resume())
	assert.Equal(t, before, state.Snapshot())
	assert.Equal(t, 0, sched.Pending())
	assert.False(t, before.IsRunning)
	assert.True(t, before.IsGameOver)
}

func TestSpawnCollision_AfterLanding(t *testing.T) {
	board := tetris.NewDefaultBoard()
	for y := 2; y < tetris.BoardHeight; y++ {
		board[y] = filledRow(tetris.BlockS, 9)
	}

	// 最初の O ミノは y=0..1 に着地し、次の O ミノはスポーン位置で衝突する
	state, _ := newTestState(t, pieces(tetris.TypeO), board)
	require.False(t, state.IsGameOver())
	require.True(t, state.Tick())
	assert.True(t, state.IsGameOver())
	assert.Nil(t, state.CurrentPiece())
	assert.Equal(t, tetris.BlockO, state.Board()[0][3])
}

// Scenario D: ハードドロップは落下を繰り返した場合と同じ位置に着地する。
func TestHardDrop_MatchesRepeatedTicks(t *testing.T) {
	empty := tetris.NewDefaultBoard()
	for _, pt := range tetris.AllPieceTypes {
		dropped, _ := newTestState(t, pieces(pt, tetris.TypeO), nil)
		require.True(t, dropped.HardDrop())

		ticked, _ := newTestState(t, pieces(pt, tetris.TypeO), nil)
		for i := 0; i < tetris.BoardHeight+1; i++ {
			require.True(t, ticked.Tick())
			if !assert.ObjectsAreEqual(empty, ticked.Board()) {
				break
			}
		}
		assert.Equal(t, ticked.Board(), dropped.Board(), "piece %s", pt)
		assert.Equal(t, ticked.CurrentPiece(), dropped.CurrentPiece(), "piece %s", pt)
	}
}

func TestHardDrop_LandsAtBottom(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeI, tetris.TypeT), nil)
	require.True(t, state.HardDrop())
	board := state.Board()
	assert.Equal(t, []tetris.BlockType{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}, []tetris.BlockType(board[19]))
	assert.Equal(t, tetris.TypeT, state.CurrentPiece().Type)
}

func TestMoveHorizontal_WallIsIdempotent(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeI), nil)
	for i := 0; i < 3; i++ {
		require.True(t, state.MoveHorizontal(-1))
	}
	for i := 0; i < 5; i++ {
		assert.False(t, state.MoveHorizontal(-1))
		assert.Equal(t, 0, state.CurrentPiece().X)
	}

	for i := 0; i < 6; i++ {
		require.True(t, state.MoveHorizontal(1))
	}
	assert.False(t, state.MoveHorizontal(1))
	assert.Equal(t, 6, state.CurrentPiece().X)

	assert.False(t, state.MoveHorizontal(2))
	assert.False(t, state.MoveHorizontal(0))
}

func TestMoveHorizontal_BlockedBySettledCells(t *testing.T) {
	board := tetris.NewDefaultBoard()
	board[0][2] = tetris.BlockJ
	state, _ := newTestState(t, pieces(tetris.TypeO), board)
	assert.False(t, state.MoveHorizontal(-1))
	assert.Equal(t, 3, state.CurrentPiece().X)
}

func TestRotate(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeT), nil)
	require.True(t, state.Tick())
	require.True(t, state.Rotate())
	assert.Equal(t, [][]tetris.BlockType{{3, 0}, {3, 3}, {3, 0}}, state.CurrentPiece().Shape)
	assert.Equal(t, 90, state.CurrentPiece().Rotation)
}

func TestRotate_RejectedAtWallWithoutKick(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeI), nil)
	// 縦にして右端へ
	require.True(t, state.Rotate())
	for state.MoveHorizontal(1) {
	}
	require.Equal(t, 9, state.CurrentPiece().X)

	// 横に戻すと x=9..12 になり壁にめり込むので回転しない
	before := state.CurrentPiece()
	assert.False(t, state.Rotate())
	assert.Equal(t, before, state.CurrentPiece())
}

func TestRotate_RejectedAtFloor(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeI), nil)
	for i := 0; i < 19; i++ {
		require.True(t, state.Tick())
	}
	assert.False(t, state.Rotate())
	assert.Equal(t, [][]tetris.BlockType{{1, 1, 1, 1}}, state.CurrentPiece().Shape)
}

func TestClearing_IgnoresTicksAndMoves(t *testing.T) {
	board := tetris.NewDefaultBoard()
	board[19] = filledRow(tetris.BlockL, 3, 4, 5, 6)

	state, sched := newTestState(t, pieces(tetris.TypeI, tetris.TypeO), board)
	require.True(t, state.HardDrop())
	require.True(t, state.IsClearing())
	assert.Nil(t, state.CurrentPiece())

	before := state.Snapshot()
	assert.False(t, state.Tick())
	assert.False(t, state.MoveHorizontal(1))
	assert.False(t, state.Rotate())
	assert.False(t, state.HardDrop())
	assert.Equal(t, before, state.Snapshot())

	sched.RunPending()
	assert.Equal(t, tetris.NewDefaultBoard(), state.Board())
	assert.Equal(t, 100, state.Score())
	assert.Equal(t, tetris.TypeO, state.CurrentPiece().Type)
}

func TestScoreLaw(t *testing.T) {
	for rows := 1; rows <= 4; rows++ {
		board := tetris.NewDefaultBoard()
		for y := tetris.BoardHeight - rows; y < tetris.BoardHeight; y++ {
			board[y] = filledRow(tetris.BlockZ, 0)
		}
		state, sched := newTestState(t, pieces(tetris.TypeI, tetris.TypeO), board)
		require.True(t, state.Rotate())
		for state.MoveHorizontal(-1) {
		}
		require.True(t, state.HardDrop())
		require.Len(t, state.Snapshot().ClearingRows, rows)
		sched.RunPending()
		assert.Equal(t, 100*rows, state.Score(), "rows=%d", rows)
		assert.Equal(t, rows, state.LinesCleared())
	}
}

func TestScoreLaw_SeparateResolutionsDoNotCompound(t *testing.T) {
	board := tetris.NewDefaultBoard()
	board[19] = filledRow(tetris.BlockZ, 3, 4, 5, 6)

	state, sched := newTestState(t, pieces(tetris.TypeI), board)

	require.True(t, state.HardDrop())
	require.Equal(t, []int{19}, state.Snapshot().ClearingRows)
	sched.RunPending()
	assert.Equal(t, 100, state.Score())

	// もう一度同じ形を用意して1ライン消す
	state.board = board.Clone()
	require.True(t, state.HardDrop())
	require.Equal(t, []int{19}, state.Snapshot().ClearingRows)
	sched.RunPending()
	assert.Equal(t, 200, state.Score())
	assert.Equal(t, 2, state.LinesCleared())
}

func TestLevelProgression(t *testing.T) {
	state, sched := newTestState(t, pieces(tetris.TypeI), nil)
	assert.Equal(t, 1, state.Level())
	assert.Equal(t, 500*time.Millisecond, state.DropInterval())

	state.linesCleared = 9
	assert.Equal(t, 1, state.Level())

	// 1ライン消して10ラインに到達
	board := tetris.NewDefaultBoard()
	board[19] = filledRow(tetris.BlockO, 3, 4, 5, 6)
	state.board = board
	require.True(t, state.HardDrop())
	sched.RunPending()
	assert.Equal(t, 10, state.LinesCleared())
	assert.Equal(t, 2, state.Level())
	assert.Equal(t, 450*time.Millisecond, state.DropInterval())
	assert.Equal(t, int64(450), state.Snapshot().DropIntervalMs)
}

func TestSoftDrop_OverridesInterval(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeJ), nil)
	before := state.Snapshot()

	require.True(t, state.SetSoftDrop(true))
	assert.Equal(t, SoftDropInterval, state.DropInterval())
	assert.False(t, state.SetSoftDrop(true))

	// ピースとボードは変わらない
	after := state.Snapshot()
	assert.Equal(t, before.Grid, after.Grid)
	assert.Equal(t, before.CurrentPiece, after.CurrentPiece)

	state.linesCleared = 200
	assert.Equal(t, SoftDropInterval, state.DropInterval())

	require.True(t, state.SetSoftDrop(false))
	assert.Equal(t, MinFallInterval, state.DropInterval())
}

func TestPauseResume(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeT), nil)
	require.True(t, state.SetSoftDrop(true))

	require.True(t, state.Pause())
	assert.Equal(t, StatusPaused, state.Status())
	assert.False(t, state.SoftDrop(), "pause releases soft drop")
	assert.False(t, state.Pause())

	before := state.Snapshot()
	assert.False(t, before.IsRunning)
	assert.True(t, before.IsPaused)
	assert.False(t, state.Tick())
	assert.False(t, state.MoveHorizontal(1))
	assert.False(t, state.Rotate())
	assert.False(t, state.HardDrop())
	assert.False(t, state.SetSoftDrop(true))
	assert.Equal(t, before, state.Snapshot())

	require.True(t, state.Resume())
	assert.False(t, state.Resume())
	assert.True(t, state.Tick())
}

func TestRestart_CancelsPendingClear(t *testing.T) {
	board := tetris.NewDefaultBoard()
	board[19] = filledRow(tetris.BlockL, 3, 4, 5, 6)

	state, sched := newTestState(t, pieces(tetris.TypeI, tetris.TypeS), board)
	require.True(t, state.HardDrop())
	require.Equal(t, 1, sched.Pending())

	state.Restart()
	assert.Equal(t, 0, sched.Pending())
	assert.False(t, state.IsClearing())
	assert.Equal(t, 0, state.Score())
	assert.Equal(t, StatusRunning, state.Status())
	assert.Equal(t, board, state.Board(), "restart rebuilds the initial board")
}

func TestRestart_StaleCallbackIsIgnored(t *testing.T) {
	board := tetris.NewDefaultBoard()
	board[19] = filledRow(tetris.BlockL, 3, 4, 5, 6)

	// 取り消しを無視するスケジューラでも古い世代の処理は実行されない
	var captured func()
	sched := schedulerFunc(func(d time.Duration, fn func()) func() {
		captured = fn
		return func() {}
	})
	state, err := NewPlayerGameState("u", Options{Board: board, Randomizer: pieces(tetris.TypeI), Scheduler: sched})
	require.NoError(t, err)

	require.True(t, state.HardDrop())
	require.NotNil(t, captured)
	state.Restart()
	captured()

	assert.Equal(t, 0, state.Score())
	assert.Equal(t, board, state.Board())
}

type schedulerFunc func(time.Duration, func()) func()

func (f schedulerFunc) Schedule(d time.Duration, fn func()) func() { return f(d, fn) }

func TestSnapshot_IsDetached(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeL, tetris.TypeJ), nil)
	snap := state.Snapshot()

	snap.Grid[0][0] = tetris.BlockZ
	snap.CurrentPiece.X = 7
	snap.NextPiece.Shape[0][0] = tetris.BlockZ

	fresh := state.Snapshot()
	assert.Equal(t, tetris.BlockEmpty, fresh.Grid[0][0])
	assert.Equal(t, 3, fresh.CurrentPiece.X)
	assert.Equal(t, [][]tetris.BlockType{{6, 0, 0}, {6, 6, 6}}, fresh.NextPiece.Shape)
	assert.Equal(t, tetris.NewDefaultBoard(), state.Board())
}

func TestSnapshot_GridShowsCurrentPiece(t *testing.T) {
	state, _ := newTestState(t, pieces(tetris.TypeO), nil)
	snap := state.Snapshot()
	assert.Equal(t, tetris.BlockO, snap.Grid[0][3])
	assert.Equal(t, tetris.BlockO, snap.Grid[1][4])
	assert.True(t, snap.IsRunning)
	assert.Empty(t, snap.ClearingRows)
	assert.Equal(t, int64(500), snap.DropIntervalMs)
}

func TestRandomPiece_SeededSequenceIsReproducible(t *testing.T) {
	a, _ := newTestState(t, NewRandomizer(42), nil)
	b, _ := newTestState(t, NewRandomizer(42), nil)
	for i := 0; i < 20; i++ {
		require.Equal(t, a.CurrentPiece().Type, b.CurrentPiece().Type)
		require.Equal(t, a.NextPiece().Type, b.NextPiece().Type)
		a.HardDrop()
		b.HardDrop()
		if a.IsGameOver() {
			break
		}
	}
}
