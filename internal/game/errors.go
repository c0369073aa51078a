package game

import "errors"

var (
	ErrConflict            = errors.New("concurrent update, retry limit reached")
	ErrTurnAdvanced        = errors.New("position changed before the move was applied")
	ErrWrongPhase          = errors.New("operation not allowed in the current phase")
	ErrNotYourTurn         = errors.New("not your turn")
	ErrNotAPlayer          = errors.New("viewer holds no color")
	ErrAlreadyAssigned     = errors.New("color already assigned")
	ErrAlreadyReady        = errors.New("player already ready")
	ErrGameOver            = errors.New("game is over")
	ErrInvalidColor        = errors.New("invalid color")
	ErrIllegalMove         = errors.New("illegal move")
	ErrAllocationExhausted = errors.New("could not allocate a game code")
	ErrNotFound            = errors.New("game not found")
)

// Kind groups sentinel errors for the service boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindConflict
	KindPolicy
	KindIllegalMove
	KindAllocation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindPolicy:
		return "policy_violation"
	case KindIllegalMove:
		return "illegal_move"
	case KindAllocation:
		return "allocation_exhausted"
	case KindNotFound:
		return "not_found"
	}
	return "internal"
}

var codes = []struct {
	err  error
	code string
	kind Kind
}{
	{ErrTurnAdvanced, "turn_advanced", KindConflict},
	{ErrConflict, "conflict", KindConflict},
	{ErrWrongPhase, "wrong_phase", KindPolicy},
	{ErrNotYourTurn, "not_your_turn", KindPolicy},
	{ErrNotAPlayer, "not_a_player", KindPolicy},
	{ErrAlreadyAssigned, "already_assigned", KindPolicy},
	{ErrAlreadyReady, "already_ready", KindPolicy},
	{ErrGameOver, "game_over", KindPolicy},
	{ErrInvalidColor, "invalid_color", KindPolicy},
	{ErrIllegalMove, "illegal_move", KindIllegalMove},
	{ErrAllocationExhausted, "allocation_exhausted", KindAllocation},
	{ErrNotFound, "not_found", KindNotFound},
}

// KindOf classifies err; unknown errors are KindInternal.
func KindOf(err error) Kind {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return KindInternal
}

// Code returns the stable snake_case code for err ("internal" if unknown).
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
