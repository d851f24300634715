package tetris

import (
	"math/rand"
	"sync"
	"time"
)

// Scheduler はラインクリア演出後の処理など、遅延実行を外部に委ねるためのインターフェースです。
// Schedule は delay 経過後に fn をちょうど一度だけ呼び出し、返された cancel が先に呼ばれた場合は呼び出しません。
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (cancel func())
}

// Randomizer はピース種類の抽選に使う乱数源です。*rand.Rand はこれを満たします。
type Randomizer interface {
	Intn(n int) int
}

// NewRandomizer はシード付きの乱数源を返します。同じシードなら同じピース列になります。
func NewRandomizer(seed int64) Randomizer {
	return rand.New(rand.NewSource(seed))
}

// ManualScheduler は実時間を使わずに遅延処理を手動で進めるためのスケジューラです。
// テストや、ステップ実行したいドライバから使います。
type ManualScheduler struct {
	mu      sync.Mutex
	nextID  int
	pending []scheduledTask
}

type scheduledTask struct {
	id    int
	delay time.Duration
	fn    func()
}

// NewManualScheduler は新しい ManualScheduler を返します。
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Schedule は fn を保留キューに積みます。
func (m *ManualScheduler) Schedule(delay time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.pending = append(m.pending, scheduledTask{id: id, delay: delay, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, task := range m.pending {
			if task.id == id {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				return
			}
		}
	}
}

// Pending は保留中のタスク数を返します。
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// LastDelay は最後に積まれたタスクの遅延時間を返します。保留がなければ0です。
func (m *ManualScheduler) LastDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return 0
	}
	return m.pending[len(m.pending)-1].delay
}

// RunPending は現在保留中のタスクを積まれた順にすべて実行し、実行した数を返します。
// 実行中に新たに積まれたタスクは次回の呼び出しまで保留されます。
func (m *ManualScheduler) RunPending() int {
	m.mu.Lock()
	tasks := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, task := range tasks {
		task.fn()
	}
	return len(tasks)
}
