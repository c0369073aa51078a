package game

import (
	"fmt"
	"strings"
	"time"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Color identifies chess side.
type Color string

const (
	NoColor Color = ""
	White   Color = "white"
	Black   Color = "black"
)

// ParseColor accepts "white"/"black" (and w/b), case-insensitive.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return NoColor, fmt.Errorf("%w: %q", ErrInvalidColor, s)
}

func (c Color) Opponent() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return NoColor
}

// Status represents a game lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusDraw      Status = "draw"
	StatusAbandoned Status = "abandoned"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCheckmate, StatusStalemate, StatusDraw, StatusAbandoned:
		return true
	}
	return false
}

func (s Status) stage() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusActive:
		return 1
	}
	return 2
}

// CanAdvanceTo reports whether next is a forward transition from s.
// Terminal states never change.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusAbandoned {
		return true
	}
	return next.stage() > s.stage()
}

// Role of a viewer relative to one game.
type Role string

const (
	RoleWhite     Role = "white"
	RoleBlack     Role = "black"
	RoleSpectator Role = "spectator"
)

func RoleFor(c Color) Role {
	switch c {
	case White:
		return RoleWhite
	case Black:
		return RoleBlack
	}
	return RoleSpectator
}

// Result tokens for terminal games.
const (
	ResultWhiteWin  = "white_win"
	ResultBlackWin  = "black_win"
	ResultDraw      = "draw"
	ResultAbandoned = "abandoned"
)

// Termination reasons outside the rules engine.
const (
	TerminationResignation = "resignation"
	TerminationAbandoned   = "abandoned"
)

func WinFor(c Color) string {
	if c == White {
		return ResultWhiteWin
	}
	return ResultBlackWin
}

type LastMove struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Record is the authoritative persisted state of one game.
// LastActionAt moves only on player actions; spectator presence does not
// touch it. White/BlackHoldUntil is when an unready seat is released (zero:
// never).
type Record struct {
	ID             string    `json:"id"`
	Version        int64     `json:"version"`
	Status         Status    `json:"status"`
	FEN            string    `json:"fen"`
	Turn           Color     `json:"turn"`
	White          string    `json:"white,omitempty"`
	Black          string    `json:"black,omitempty"`
	WhiteReady     bool      `json:"white_ready"`
	BlackReady     bool      `json:"black_ready"`
	Spectators     int       `json:"spectators"`
	LastMove       *LastMove `json:"last_move,omitempty"`
	InCheck        bool      `json:"in_check"`
	MovesUCI       []string  `json:"moves_uci"`
	MovesSAN       []string  `json:"moves_san"`
	Result         string    `json:"result,omitempty"`
	Termination    string    `json:"termination,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastActionAt   time.Time `json:"last_action_at,omitzero"`
	WhiteHoldUntil time.Time `json:"white_hold_until,omitzero"`
	BlackHoldUntil time.Time `json:"black_hold_until,omitzero"`
}

// NewRecord returns a fresh waiting game at version 1.
func NewRecord(id string, now time.Time) *Record {
	return &Record{
		ID:           id,
		Version:      1,
		Status:       StatusWaiting,
		FEN:          StartFEN,
		Turn:         White,
		MovesUCI:     []string{},
		MovesSAN:     []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActionAt: now,
	}
}

// Clone returns a deep copy safe to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.LastMove != nil {
		lm := *r.LastMove
		cp.LastMove = &lm
	}
	cp.MovesUCI = append([]string(nil), r.MovesUCI...)
	cp.MovesSAN = append([]string(nil), r.MovesSAN...)
	return &cp
}

// ColorOf returns the color held by token, or NoColor.
func (r *Record) ColorOf(token string) Color {
	if token == "" {
		return NoColor
	}
	switch token {
	case r.White:
		return White
	case r.Black:
		return Black
	}
	return NoColor
}

func (r *Record) Holder(c Color) string {
	switch c {
	case White:
		return r.White
	case Black:
		return r.Black
	}
	return ""
}

func (r *Record) SetHolder(c Color, token string) {
	switch c {
	case White:
		r.White = token
	case Black:
		r.Black = token
	}
}

func (r *Record) Ready(c Color) bool {
	switch c {
	case White:
		return r.WhiteReady
	case Black:
		return r.BlackReady
	}
	return false
}

func (r *Record) SetReady(c Color, v bool) {
	switch c {
	case White:
		r.WhiteReady = v
	case Black:
		r.BlackReady = v
	}
}

// LastActive is when a player last acted on the game.
func (r *Record) LastActive() time.Time {
	if r.LastActionAt.IsZero() {
		return r.CreatedAt
	}
	return r.LastActionAt
}

func (r *Record) HoldUntil(c Color) time.Time {
	switch c {
	case White:
		return r.WhiteHoldUntil
	case Black:
		return r.BlackHoldUntil
	}
	return time.Time{}
}

func (r *Record) SetHoldUntil(c Color, t time.Time) {
	switch c {
	case White:
		r.WhiteHoldUntil = t
	case Black:
		r.BlackHoldUntil = t
	}
}

// HoldDeadline returns the earliest pending seat-hold expiry, or zero when
// the game is not waiting or no unready seat carries one.
func (r *Record) HoldDeadline() time.Time {
	if r.Status != StatusWaiting {
		return time.Time{}
	}
	var earliest time.Time
	for _, c := range []Color{White, Black} {
		until := r.HoldUntil(c)
		if r.Holder(c) == "" || r.Ready(c) || until.IsZero() {
			continue
		}
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
	}
	return earliest
}

// Ply is the number of half-moves applied so far.
func (r *Record) Ply() int { return len(r.MovesUCI) }

// Finish moves the record into a terminal status.
func (r *Record) Finish(status Status, result, termination string) {
	r.Status = status
	r.Result = result
	r.Termination = termination
}
