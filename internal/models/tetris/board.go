package tetris

import (
	"errors"
	"fmt"
)

const (
	BoardWidth  = 10 // テトリスボードの幅
	BoardHeight = 20 // テトリスボードの高さ（表示部分）
)

var (
	// ErrInvalidDimensions はボードの幅・高さが正でない場合に返されます。
	ErrInvalidDimensions = errors.New("board dimensions must be positive")
	// ErrInvalidBoard は行の長さが揃っていない、またはセル値が範囲外の場合に返されます。
	ErrInvalidBoard = errors.New("invalid board")
)

// BlockType はボード上のブロックの種類を表します。
// 各テトリミノの種類もブロックタイプとして扱います。
type BlockType int

const (
	BlockEmpty BlockType = iota // 0: 空のマス
	BlockI                      // 1: I-テトリミノ由来のブロック (PieceType 0 + 1)
	BlockO                      // 2: O-テトリミノ由来のブロック (PieceType 1 + 1)
	BlockT                      // 3: T-テトリミノ由来のブロック (PieceType 2 + 1)
	BlockS                      // 4: S-テトリミノ由来のブロック (PieceType 3 + 1)
	BlockZ                      // 5: Z-テトリミノ由来のブロック (PieceType 4 + 1)
	BlockJ                      // 6: J-テトリミノ由来のブロック (PieceType 5 + 1)
	BlockL                      // 7: L-テトリミノ由来のブロック (PieceType 6 + 1)
)

// Board はテトリスのゲームボードを表す2次元スライスです。
// Board[y][x] でアクセスします。yは行（0が最上段）、xは列です。
// 生成後にサイズが変わることはありません。変更を伴う操作はすべて新しいBoardを返します。
type Board [][]BlockType

// NewBoard は指定サイズの空のボードを初期化して返します。
func NewBoard(width, height int) (Board, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return emptyBoard(width, height), nil
}

// NewDefaultBoard は 20x10 の空のボードを返します。
func NewDefaultBoard() Board {
	return emptyBoard(BoardWidth, BoardHeight)
}

func emptyBoard(width, height int) Board {
	board := make(Board, height)
	for y := range board {
		board[y] = make([]BlockType, width)
	}
	return board
}

// ValidateBoard は外部から渡されたボード（初期配置など）を検証します。
func ValidateBoard(b Board) error {
	if len(b) == 0 || len(b[0]) == 0 {
		return ErrInvalidDimensions
	}
	width := len(b[0])
	for y, row := range b {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has width %d, want %d", ErrInvalidBoard, y, len(row), width)
		}
		for x, cell := range row {
			if cell < BlockEmpty || cell > BlockL {
				return fmt.Errorf("%w: cell (%d,%d) has value %d", ErrInvalidBoard, x, y, cell)
			}
		}
	}
	return nil
}

// Width はボードの幅を返します。
func (b Board) Width() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Height はボードの高さを返します。
func (b Board) Height() int {
	return len(b)
}

// Clone はボードのディープコピーを返します。
func (b Board) Clone() Board {
	newBoard := make(Board, len(b))
	for y, row := range b {
		newBoard[y] = append([]BlockType(nil), row...)
	}
	return newBoard
}

// Collides は指定されたピースが現在の位置で壁や既存のブロックと衝突するかどうかを判定します。
// 移動・回転・落下・スポーンの可否はすべてこの判定で決まります。
//
// Parameters:
//
//	p : 衝突判定を行うテトリミノのポインタ
//
// Returns:
//
//	bool: 衝突する場合はtrue、しない場合はfalse
func (b Board) Collides(p *Piece) bool {
	width, height := b.Width(), b.Height()
	for _, block := range p.Blocks() {
		// ピースの位置 + ブロックの相対座標 = ボード上の絶対座標
		x := p.X + block[0]
		y := p.Y + block[1]

		// 左右の壁、または下部との衝突
		if x < 0 || x >= width || y >= height {
			return true
		}
		// y < 0 はボード上部の見えない領域。既存ブロックとの判定は行わない
		if y >= 0 && b[y][x] != BlockEmpty {
			return true
		}
	}
	return false
}

// Merge はピースをボードに書き込んだ新しいボードを返します。
// レシーバは変更しません。ボード範囲外（y < 0 など）のブロックは無視されます。
//
// Parameters:
//
//	p : ボードに固定するテトリミノのポインタ
func (b Board) Merge(p *Piece) Board {
	merged := b.Clone()
	if p == nil {
		return merged
	}
	width, height := b.Width(), b.Height()
	for _, block := range p.Blocks() {
		x := p.X + block[0]
		y := p.Y + block[1]

		if x >= 0 && x < width && y >= 0 && y < height {
			merged[y][x] = p.Shape[block[1]][block[0]]
		}
	}
	return merged
}

// IsRowFull は指定行のすべてのマスが埋まっているかを返します。
func (b Board) IsRowFull(y int) bool {
	if y < 0 || y >= b.Height() {
		return false
	}
	for _, cell := range b[y] {
		if cell == BlockEmpty {
			return false // 一つでも空のマスがあればラインは揃っていない
		}
	}
	return true
}

// FullRows は揃っている行のインデックスを昇順で返します。
func (b Board) FullRows() []int {
	var rows []int
	for y := range b {
		if b.IsRowFull(y) {
			rows = append(rows, y)
		}
	}
	return rows
}

// ClearRows は指定された行を取り除き、その数だけ空行を上に追加した新しいボードを返します。
// 残りの行の相対的な順序は保たれます。
//
// Parameters:
//
//	rows : 取り除く行のインデックス（範囲外や重複は無視）
func (b Board) ClearRows(rows []int) Board {
	width, height := b.Width(), b.Height()
	remove := make(map[int]bool, len(rows))
	for _, y := range rows {
		if y >= 0 && y < height {
			remove[y] = true
		}
	}

	newBoard := emptyBoard(width, height)
	destY := height - 1 // 新しいボードにコピーする際の最も下の行

	// ボードの最下部から上に向かって残す行をコピー
	for y := height - 1; y >= 0; y-- {
		if remove[y] {
			continue
		}
		copy(newBoard[destY], b[y])
		destY--
	}
	return newBoard
}
