package chessdto

// MoveResponse summarises an accepted move.
type MoveResponse struct {
	Status   string    `json:"status"`
	SAN      string    `json:"san"`
	UCI      string    `json:"uci"`
	Captured bool      `json:"captured"`
	Check    bool      `json:"check"`
	GameOver bool      `json:"game_over"`
	Snapshot *Snapshot `json:"snapshot"`
}
