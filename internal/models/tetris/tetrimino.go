package tetris

// PieceType はテトリミノの種類を表します。
type PieceType int

const (
	TypeI PieceType = iota // 0: I-ミノ (シアン)
	TypeO                  // 1: O-ミノ (黄色)
	TypeT                  // 2: T-ミノ (紫)
	TypeS                  // 3: S-ミノ (緑)
	TypeZ                  // 4: Z-ミノ (赤)
	TypeJ                  // 5: J-ミノ (青)
	TypeL                  // 6: L-ミノ (オレンジ)
)

// PieceTypeCount はテトリミノの種類数です。
const PieceTypeCount = 7

// AllPieceTypes は全種類のテトリミノを色ID順に並べたものです。
var AllPieceTypes = []PieceType{TypeI, TypeO, TypeT, TypeS, TypeZ, TypeJ, TypeL}

// pieceShapes は各PieceTypeの回転前の形状です。1 がブロックのあるマスを表します。
var pieceShapes = map[PieceType][][]int{
	TypeI: {{1, 1, 1, 1}},
	TypeO: {{1, 1}, {1, 1}},
	TypeT: {{0, 1, 0}, {1, 1, 1}},
	TypeS: {{1, 1, 0}, {0, 1, 1}},
	TypeZ: {{0, 1, 1}, {1, 1, 0}},
	TypeJ: {{1, 0, 0}, {1, 1, 1}},
	TypeL: {{0, 0, 1}, {1, 1, 1}},
}

// Block はPieceTypeに対応するボード上のブロック（色ID 1-7）を返します。
func (t PieceType) Block() BlockType {
	return BlockType(t + 1) // PieceType (0-6) を BlockType (1-7) に変換
}

func (t PieceType) String() string {
	return PieceTypeToString(t)
}

// Piece はテトリミノの現在の状態（種類、形状マトリクス、ボード上の基準点座標、回転角度）を表します。
// X, Y は形状マトリクスの左上がボード上のどこにあるかを示します。
type Piece struct {
	Type     PieceType     `json:"type"`     // テトリミノの種類
	Shape    [][]BlockType `json:"shape"`    // 形状マトリクス（0 または色ID）
	X        int           `json:"x"`        // ボード上のX座標
	Y        int           `json:"y"`        // ボード上のY座標
	Rotation int           `json:"rotation"` // 回転角度 (0, 90, 180, 270 度)
}

// NewPiece は指定種類のテトリミノをスポーン位置に生成します。
// スポーン位置はボードの中央上部 (幅10なら x=3, y=0) です。
//
// Parameters:
//
//	t          : 生成するテトリミノの種類
//	boardWidth : ボードの幅（水平方向の中央寄せに使用）
func NewPiece(t PieceType, boardWidth int) *Piece {
	base := pieceShapes[t]
	shape := make([][]BlockType, len(base))
	for y, row := range base {
		shape[y] = make([]BlockType, len(row))
		for x, cell := range row {
			if cell != 0 {
				shape[y][x] = t.Block()
			}
		}
	}
	return &Piece{
		Type:  t,
		Shape: shape,
		X:     SpawnX(boardWidth),
		Y:     0,
	}
}

// SpawnX はボード幅に対するスポーン時のX座標を返します。
func SpawnX(boardWidth int) int {
	x := boardWidth/2 - 2
	if x < 0 {
		return 0
	}
	return x
}

// Blocks はピースを構成するブロックの形状マトリクス内の相対座標を返します。
//
// Returns:
//
//	[][2]int: 各ブロックの相対座標の配列。例: {{x1, y1}, {x2, y2}, ...}
func (p *Piece) Blocks() [][2]int {
	blocks := make([][2]int, 0, 4)
	for y, row := range p.Shape {
		for x, cell := range row {
			if cell != BlockEmpty {
				blocks = append(blocks, [2]int{x, y})
			}
		}
	}
	return blocks
}

// Rotated はピースを時計回りに90度回転させた新しいピースを返します。
// 形状マトリクスを転置してから各行を反転します。基準点は変わりません。
// 壁蹴りは行いません。衝突判定は呼び出し側の責務です。
func (p *Piece) Rotated() *Piece {
	rows := len(p.Shape)
	if rows == 0 {
		return p.Clone()
	}
	cols := len(p.Shape[0])

	rotated := make([][]BlockType, cols)
	for i := 0; i < cols; i++ {
		rotated[i] = make([]BlockType, rows)
		for j := 0; j < rows; j++ {
			// 転置した行 i を反転: 元の列 i を下から読む
			rotated[i][j] = p.Shape[rows-1-j][i]
		}
	}

	newP := p.Clone()
	newP.Shape = rotated
	newP.Rotation = (p.Rotation + 90) % 360
	return newP
}

// Translated は基準点を (dx, dy) だけ移動させた新しいピースを返します。
func (p *Piece) Translated(dx, dy int) *Piece {
	newP := p.Clone()
	newP.X += dx
	newP.Y += dy
	return newP
}

// Clone は現在のPieceオブジェクトのディープコピーを返します。
// これにより、操作前のピースの状態を保持しつつ、操作後の状態を仮に試すことができます。
//
// Returns:
//
//	*Piece: コピーされたPieceオブジェクトのポインタ
func (p *Piece) Clone() *Piece {
	newP := *p
	newP.Shape = make([][]BlockType, len(p.Shape))
	for y, row := range p.Shape {
		newP.Shape[y] = append([]BlockType(nil), row...)
	}
	return &newP
}

// StringToPieceType は文字列のテトリミノタイプ（"I", "O", "T"など）をPieceTypeに変換します。
func StringToPieceType(s string) (PieceType, bool) {
	switch s {
	case "I":
		return TypeI, true
	case "O":
		return TypeO, true
	case "T":
		return TypeT, true
	case "S":
		return TypeS, true
	case "Z":
		return TypeZ, true
	case "J":
		return TypeJ, true
	case "L":
		return TypeL, true
	default:
		return TypeI, false // デフォルト値とfalseを返す
	}
}

// PieceTypeToString はPieceTypeを文字列表現に変換します。
func PieceTypeToString(t PieceType) string {
	switch t {
	case TypeI:
		return "I"
	case TypeO:
		return "O"
	case TypeT:
		return "T"
	case TypeS:
		return "S"
	case TypeZ:
		return "Z"
	case TypeJ:
		return "J"
	case TypeL:
		return "L"
	default:
		return "?"
	}
}
