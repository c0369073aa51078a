// Package rules adapts github.com/corentings/chess/v2 to the game record model.
package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-rooms/internal/game"
)

// Outcome describes the position after a legal move.
type Outcome struct {
	Legal    bool
	FEN      string
	Turn     game.Color
	Captured bool
	Check    bool
	Terminal bool
	// Status/Result/Method are set only when Terminal.
	Status game.Status
	Result string
	Method string
	SAN    string
	UCI    string
}

// Engine is stateless; the zero value is ready to use.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Apply plays from→to on the position described by fen and history.
// history is the UCI move list from the start position; when present it is
// replayed instead of loading fen so repetition draws are detected.
// An empty promo on a promoting pawn move defaults to a queen.
func (e *Engine) Apply(fen string, history []string, from, to, promo string) (Outcome, error) {
	uci, err := normalizeUCI(from, to, promo)
	if err != nil {
		return Outcome{}, err
	}
	g, err := load(fen, history)
	if err != nil {
		return Outcome{}, err
	}
	prev := g.Position()

	if perr := g.PushNotationMove(uci, nchess.UCINotation{}, nil); perr != nil {
		if promo != "" {
			return Outcome{}, fmt.Errorf("%w: %s", game.ErrIllegalMove, uci)
		}
		if qerr := g.PushNotationMove(uci+"q", nchess.UCINotation{}, nil); qerr != nil {
			return Outcome{}, fmt.Errorf("%w: %s", game.ErrIllegalMove, uci)
		}
	}
	moves := g.Moves()
	if len(moves) == 0 {
		return Outcome{}, fmt.Errorf("%w: %s", game.ErrIllegalMove, uci)
	}
	mv := moves[len(moves)-1]

	out := Outcome{
		Legal:    true,
		FEN:      g.FEN(),
		Turn:     colorFrom(g.Position().Turn()),
		Captured: mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant),
		Check:    mv.HasTag(nchess.Check),
		SAN:      nchess.AlgebraicNotation{}.Encode(prev, mv),
		UCI:      mv.String(),
	}
	if o := g.Outcome(); o != nchess.NoOutcome {
		out.Terminal = true
		out.Method = methodName(g.Method())
		out.Status, out.Result = classify(o, g.Method())
	}
	return out, nil
}

// SideToMove returns the color to move in fen.
func SideToMove(fen string) (game.Color, error) {
	g, err := load(fen, nil)
	if err != nil {
		return game.NoColor, err
	}
	return colorFrom(g.Position().Turn()), nil
}

// Board returns the board for fen; used by the renderer.
func Board(fen string) (*nchess.Board, error) {
	g, err := load(fen, nil)
	if err != nil {
		return nil, err
	}
	return g.Position().Board(), nil
}

func load(fen string, history []string) (*nchess.Game, error) {
	if len(history) > 0 || fen == "" || fen == game.StartFEN {
		g := nchess.NewGame()
		for _, mv := range history {
			if err := g.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
				return nil, fmt.Errorf("replay %s: %w", mv, err)
			}
		}
		return g, nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

func normalizeUCI(from, to, promo string) (string, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promo = strings.ToLower(strings.TrimSpace(promo))
	if !validSquare(from) || !validSquare(to) {
		return "", fmt.Errorf("%w: bad square %q-%q", game.ErrIllegalMove, from, to)
	}
	switch promo {
	case "", "q", "r", "b", "n":
	default:
		return "", fmt.Errorf("%w: bad promotion %q", game.ErrIllegalMove, promo)
	}
	return from + to + promo, nil
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func colorFrom(c nchess.Color) game.Color {
	if c == nchess.White {
		return game.White
	}
	return game.Black
}

func classify(o nchess.Outcome, m nchess.Method) (game.Status, string) {
	switch o {
	case nchess.WhiteWon:
		return game.StatusCheckmate, game.ResultWhiteWin
	case nchess.BlackWon:
		return game.StatusCheckmate, game.ResultBlackWin
	}
	if m == nchess.Stalemate {
		return game.StatusStalemate, game.ResultDraw
	}
	return game.StatusDraw, game.ResultDraw
}

func methodName(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	case nchess.FivefoldRepetition:
		return "fivefold_repetition"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	case nchess.ThreefoldRepetition:
		return "threefold_repetition"
	case nchess.FiftyMoveRule:
		return "fifty_move_rule"
	}
	return strings.ToLower(m.String())
}
