// Package archive stores finished games with their PGN.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-rooms/internal/game"
)

const schema = `CREATE TABLE IF NOT EXISTS chess_games (
	game_id     TEXT PRIMARY KEY,
	result      TEXT NOT NULL,
	termination TEXT NOT NULL,
	moves_uci   TEXT NOT NULL,
	moves_san   TEXT NOT NULL,
	pgn         TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	ended_at    TIMESTAMP NOT NULL,
	duration_ms BIGINT NOT NULL
)`

// Game is one archived row.
type Game struct {
	GameID      string
	Result      string
	Termination string
	MovesUCI    []string
	MovesSAN    []string
	PGN         string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
}

type Repository struct {
	db *sql.DB
}

// NewRepository migrates chess_games on db (postgres or sqlite).
func NewRepository(ctx context.Context, db *sql.DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("archive: nil db")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate chess_games: %w", err)
	}
	return &Repository{db: db}, nil
}

// SaveResult upserts a finished game.
func (r *Repository) SaveResult(ctx context.Context, rec *game.Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	if !rec.Status.Terminal() {
		return fmt.Errorf("archive %s: game not finished (%s)", rec.ID, rec.Status)
	}
	pgnResult := mapResultToPGN(rec.Result)
	pgn := buildPGN(rec, pgnResult)

	movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
	movesSANRaw, _ := json.Marshal(rec.MovesSAN)
	duration := rec.UpdatedAt.Sub(rec.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO chess_games (
        game_id, result, termination, moves_uci, moves_san, pgn,
        started_at, ended_at, duration_ms
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
      ON CONFLICT (game_id) DO UPDATE SET
        result=EXCLUDED.result,
        termination=EXCLUDED.termination,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.Result, rec.Termination,
		string(movesUCIRaw), string(movesSANRaw), pgn,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), duration,
	)
	if err != nil {
		return fmt.Errorf("upsert chess_games: %w", err)
	}
	return nil
}

// Load returns an archived game or game.ErrNotFound.
func (r *Repository) Load(ctx context.Context, id string) (*Game, error) {
	var (
		g        Game
		uci, san string
		ms       int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT game_id, result, termination, moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
		 FROM chess_games WHERE game_id = $1`, id,
	).Scan(&g.GameID, &g.Result, &g.Termination, &uci, &san, &g.PGN, &g.StartedAt, &g.EndedAt, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select chess_games: %w", err)
	}
	_ = json.Unmarshal([]byte(uci), &g.MovesUCI)
	_ = json.Unmarshal([]byte(san), &g.MovesSAN)
	g.Duration = time.Duration(ms) * time.Millisecond
	return &g, nil
}

func mapResultToPGN(result string) string {
	switch result {
	case game.ResultWhiteWin:
		return "1-0"
	case game.ResultBlackWin:
		return "0-1"
	case game.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(rec *game.Record, pgnResult string) string {
	var b strings.Builder
	date := rec.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Chess Room\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(rec.ID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString("[White \"White\"]\n")
	b.WriteString("[Black \"Black\"]\n")
	if strings.TrimSpace(rec.Termination) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(rec.Termination)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(rec.MovesSAN[i])))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
