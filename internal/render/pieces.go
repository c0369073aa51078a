package render

import (
	"embed"
	"fmt"
	"image"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/pieces/*.svg
var pieceFiles embed.FS

// sheetOrder fixes each piece's column in the sprite sheet.
var sheetOrder = []nchess.Piece{
	nchess.WhiteKing, nchess.WhiteQueen, nchess.WhiteRook, nchess.WhiteBishop, nchess.WhiteKnight, nchess.WhitePawn,
	nchess.BlackKing, nchess.BlackQueen, nchess.BlackRook, nchess.BlackBishop, nchess.BlackKnight, nchess.BlackPawn,
}

var silhouette = map[nchess.PieceType]string{
	nchess.King:   "k",
	nchess.Queen:  "q",
	nchess.Rook:   "r",
	nchess.Bishop: "b",
	nchess.Knight: "n",
	nchess.Pawn:   "p",
}

// palette replaces the FILL / STROKE placeholders of an asset.
var palette = map[nchess.Color]*strings.Replacer{
	nchess.White: strings.NewReplacer("FILL", "#f8f8f2", "STROKE", "#1e1e1e"),
	nchess.Black: strings.NewReplacer("FILL", "#2b2b2b", "STROKE", "#0a0a0a"),
}

// spriteSheet holds every piece rasterised once at a single cell size,
// laid out in one row. Built lazily on the first render.
type spriteSheet struct {
	cell int

	once sync.Once
	img  *image.RGBA
	col  map[nchess.Piece]int
	err  error
}

func newSpriteSheet(cell int) *spriteSheet {
	return &spriteSheet{cell: cell}
}

// source returns the sheet image and the top-left of piece's cell.
func (s *spriteSheet) source(piece nchess.Piece) (image.Image, image.Point, error) {
	s.once.Do(s.build)
	if s.err != nil {
		return nil, image.Point{}, s.err
	}
	c, ok := s.col[piece]
	if !ok {
		return nil, image.Point{}, fmt.Errorf("no sprite for piece %v", piece)
	}
	return s.img, image.Pt(c*s.cell, 0), nil
}

func (s *spriteSheet) build() {
	s.img = image.NewRGBA(image.Rect(0, 0, s.cell*len(sheetOrder), s.cell))
	s.col = make(map[nchess.Piece]int, len(sheetOrder))
	for i, p := range sheetOrder {
		icon, err := loadIcon(p)
		if err != nil {
			s.err = err
			return
		}
		// 투명 배경 위에 셀 단위로 그린다
		x := float64(i * s.cell)
		icon.SetTarget(x, 0, float64(s.cell), float64(s.cell))
		w := s.img.Bounds().Dx()
		scanner := rasterx.NewScannerGV(w, s.cell, s.img, s.img.Bounds())
		icon.Draw(rasterx.NewDasher(w, s.cell, scanner), 1.0)
		s.col[p] = i
	}
}

func loadIcon(p nchess.Piece) (*oksvg.SvgIcon, error) {
	name := "assets/pieces/" + silhouette[p.Type()] + ".svg"
	raw, err := pieceFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read piece asset %s: %w", name, err)
	}
	tinted := palette[p.Color()].Replace(string(raw))
	icon, err := oksvg.ReadIconStream(strings.NewReader(tinted))
	if err != nil {
		return nil, fmt.Errorf("parse piece asset %s: %w", name, err)
	}
	return icon, nil
}
