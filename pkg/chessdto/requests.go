package chessdto

type ChooseColorRequest struct {
	Color string `json:"color"`
}

type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	// Ply is the number of half-moves the client saw when it sent the move.
	// Optional; when set, a move based on an outdated position is rejected as turn_advanced.
	Ply *int `json:"ply,omitempty"`
}

// JoinResponse is returned by create/join; Token is the viewer capability for this game.
type JoinResponse struct {
	Status         string    `json:"status"`
	GameID         string    `json:"game_id"`
	Token          string    `json:"token"`
	Role           string    `json:"role"`
	CanChooseColor bool      `json:"can_choose_color"`
	Snapshot       *Snapshot `json:"snapshot"`
}

type ReadyResponse struct {
	Status       string    `json:"status"`
	Started      bool      `json:"started"`
	AlreadyReady bool      `json:"already_ready"`
	Snapshot     *Snapshot `json:"snapshot"`
}

type StateResponse struct {
	Status   string    `json:"status"`
	Snapshot *Snapshot `json:"snapshot"`
}
