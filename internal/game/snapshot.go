package game

import (
	"math"
	"time"

	"github.com/park285/chess-rooms/pkg/chessdto"
)

// Snapshot renders the public view of r. role is empty for broadcast views.
func (r *Record) Snapshot(role Role) *chessdto.Snapshot {
	s := &chessdto.Snapshot{
		GameID:         r.ID,
		Version:        r.Version,
		Position:       r.FEN,
		Status:         string(r.Status),
		Turn:           string(r.Turn),
		Ply:            r.Ply(),
		InCheck:        r.InCheck,
		WhiteReady:     r.WhiteReady,
		BlackReady:     r.BlackReady,
		WhiteJoined:    r.White != "",
		BlackJoined:    r.Black != "",
		SpectatorCount: r.Spectators,
		GameOver:       r.Status.Terminal(),
		Role:           string(role),
	}
	if r.LastMove != nil {
		s.LastMove = &chessdto.LastMove{From: r.LastMove.From, To: r.LastMove.To}
	}
	if r.Status == StatusWaiting {
		now := time.Now()
		s.WhiteHoldExpiresIn = r.holdSecondsLeft(White, now)
		s.BlackHoldExpiresIn = r.holdSecondsLeft(Black, now)
	}
	if s.GameOver {
		s.Result = r.Result
		s.Termination = r.Termination
	}
	return s
}

func (r *Record) holdSecondsLeft(c Color, now time.Time) int {
	until := r.HoldUntil(c)
	if r.Holder(c) == "" || r.Ready(c) || until.IsZero() || !until.After(now) {
		return 0
	}
	return int(math.Ceil(until.Sub(now).Seconds()))
}
