package tetris

import (
	"time"
)

// ゲーム全体に影響する速度・得点の定数です。
const (
	InitialFallInterval = 500 * time.Millisecond // レベル1の自動落下間隔
	FallIntervalStep    = 50 * time.Millisecond  // レベルが1上がるごとに短縮される時間
	MinFallInterval     = 100 * time.Millisecond // 自動落下間隔の下限
	SoftDropInterval    = 50 * time.Millisecond  // ソフトドロップ中はレベルに関係なくこの間隔
	DefaultClearDelay   = 300 * time.Millisecond // ラインクリア演出の待ち時間
	LevelUpLines        = 10                     // レベルアップに必要なライン数
	PointsPerLine       = 100                    // 1ラインあたりの得点
)

// プレイヤーの操作を表すアクション文字列です。
const (
	ActionMoveLeft    = "move_left"
	ActionMoveRight   = "move_right"
	ActionRotate      = "rotate"
	ActionSoftDropOn  = "soft_drop_on"
	ActionSoftDropOff = "soft_drop_off"
	ActionHardDrop    = "hard_drop"
	ActionPause       = "pause"
	ActionResume      = "resume"
	ActionTogglePause = "toggle_pause"
	ActionNewSession  = "new_session"
)

// GetFallInterval は現在のレベルに基づいた自動落下間隔を計算して返します。
func GetFallInterval(level int) time.Duration {
	interval := InitialFallInterval - time.Duration(level-1)*FallIntervalStep
	if interval < MinFallInterval {
		interval = MinFallInterval
	}
	return interval
}

// LevelForLines は累計クリアライン数からレベルを計算します。
func LevelForLines(linesCleared int) int {
	return linesCleared/LevelUpLines + 1
}

// CalculateScore は一度の着地でクリアしたライン数に対する得点を返します。
// 複数ライン同時消しのボーナスはありません。
func CalculateScore(clearedLines int) int {
	if clearedLines <= 0 {
		return 0
	}
	return PointsPerLine * clearedLines
}

// ApplyPlayerInput はプレイヤーの入力（アクション）に基づいて、
// 指定されたプレイヤーのゲーム状態を更新します。
//
// Parameters:
//
//	state  : 更新するプレイヤーのゲーム状態のポインタ
//	action : プレイヤーが実行したアクション（例: "move_left", "rotate"）
//
// Returns:
//
//	bool: ゲーム状態が実際に変更された場合はtrue、変更されなかった場合はfalse
func ApplyPlayerInput(state *PlayerGameState, action string) bool {
	switch action {
	case ActionMoveLeft:
		return state.MoveHorizontal(-1)
	case ActionMoveRight:
		return state.MoveHorizontal(1)
	case ActionRotate, "rotate_right":
		return state.Rotate()
	case ActionSoftDropOn:
		return state.SetSoftDrop(true)
	case ActionSoftDropOff:
		return state.SetSoftDrop(false)
	case ActionHardDrop:
		return state.HardDrop()
	case ActionPause:
		return state.Pause()
	case ActionResume:
		return state.Resume()
	case ActionTogglePause:
		if state.Status() == StatusPaused {
			return state.Resume()
		}
		return state.Pause()
	case ActionNewSession, "restart":
		state.Restart()
		return true
	}
	return false
}

// IsKnownAction はドライバが受け付けるアクションかどうかを返します。
func IsKnownAction(action string) bool {
	switch action {
	case ActionMoveLeft, ActionMoveRight, ActionRotate, "rotate_right",
		ActionSoftDropOn, ActionSoftDropOff, ActionHardDrop,
		ActionPause, ActionResume, ActionTogglePause, ActionNewSession, "restart":
		return true
	}
	return false
}
