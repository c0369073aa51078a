// Package render draws a game position as a PNG board image.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/rules"
)

type Options struct {
	// Orientation is the color shown at the bottom; defaults to white.
	Orientation game.Color
	LastMove    *game.LastMove
	// CheckSide marks that side's king as in check.
	CheckSide game.Color
}

type Renderer struct {
	squareSize int
	margin     int
	sprites    *spriteSheet
}

func New(squareSize int) *Renderer {
	if squareSize <= 0 {
		squareSize = 64
	}
	return &Renderer{squareSize: squareSize, margin: 20, sprites: newSpriteSheet(squareSize)}
}

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	frameColor          = color.RGBA{40, 42, 54, 255}
	lastMoveFill        = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	checkFill           = color.NRGBA{R: 230, G: 60, B: 60, A: 150}
	coordinateTextColor = color.NRGBA{R: 220, G: 220, B: 220, A: 255}
)

// RenderPNG draws fen with the given options.
func (r *Renderer) RenderPNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	board, err := rules.Board(fen)
	if err != nil {
		return nil, err
	}
	flip := opts.Orientation == game.Black
	size := r.squareSize*8 + r.margin*2
	origin := image.Pt(r.margin, r.margin)

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
		for file := nchess.FileA; file <= nchess.FileH; file++ {
			sq := nchess.NewSquare(file, rank)
			clr := lightSquare
			if (int(file)+int(rank))%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(img, r.squareRect(sq, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}

	if lm := opts.LastMove; lm != nil {
		for _, s := range []string{lm.From, lm.To} {
			if sq, ok := parseSquare(s); ok {
				imagedraw.Draw(img, r.squareRect(sq, origin, flip), image.NewUniform(lastMoveFill), image.Point{}, imagedraw.Over)
			}
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		rect := r.squareRect(sq, origin, flip)
		if opts.CheckSide != game.NoColor && piece.Type() == nchess.King && sideOf(piece.Color()) == opts.CheckSide {
			imagedraw.Draw(img, rect, image.NewUniform(checkFill), image.Point{}, imagedraw.Over)
		}
		sheet, at, err := r.sprites.source(piece)
		if err != nil {
			return nil, err
		}
		imagedraw.Draw(img, rect, sheet, at, imagedraw.Over)
	}

	r.drawCoordinates(img, origin, flip)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if flip {
		col = 7 - col
		row = 7 - row
	}
	x := origin.X + col*r.squareSize
	y := origin.Y + row*r.squareSize
	return image.Rect(x, y, x+r.squareSize, y+r.squareSize)
}

func (r *Renderer) drawCoordinates(img *image.RGBA, origin image.Point, flip bool) {
	d := &font.Drawer{Dst: img, Src: image.NewUniform(coordinateTextColor), Face: basicfont.Face7x13}
	for i := 0; i < 8; i++ {
		file, rank := i, 7-i
		if flip {
			file, rank = 7-i, i
		}
		cx := origin.X + i*r.squareSize + r.squareSize/2 - 3
		d.Dot = fixed.P(cx, origin.Y+8*r.squareSize+15)
		d.DrawString(string(rune('a' + file)))

		cy := origin.Y + i*r.squareSize + r.squareSize/2 + 5
		d.Dot = fixed.P(origin.X-14, cy)
		d.DrawString(string(rune('1' + rank)))
	}
}

func parseSquare(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func sideOf(c nchess.Color) game.Color {
	if c == nchess.White {
		return game.White
	}
	return game.Black
}
