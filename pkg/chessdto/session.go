package chessdto

// LastMove is the most recently applied move in coordinate form.
type LastMove struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Snapshot is the full, self-contained view of a game pushed to every viewer.
// Ply is the half-move count to echo in MoveRequest.Ply. The *HoldExpiresIn
// fields are the seconds left before an unready seat is released.
type Snapshot struct {
	GameID             string    `json:"game_id"`
	Version            int64     `json:"version"`
	Position           string    `json:"position"`
	Status             string    `json:"status"`
	Turn               string    `json:"turn"`
	Ply                int       `json:"ply"`
	InCheck            bool      `json:"in_check"`
	LastMove           *LastMove `json:"last_move"`
	WhiteReady         bool      `json:"white_ready"`
	BlackReady         bool      `json:"black_ready"`
	WhiteJoined        bool      `json:"white_joined"`
	BlackJoined        bool      `json:"black_joined"`
	SpectatorCount     int       `json:"spectator_count"`
	WhiteHoldExpiresIn int       `json:"white_hold_expires_in,omitempty"`
	BlackHoldExpiresIn int       `json:"black_hold_expires_in,omitempty"`
	GameOver           bool      `json:"game_over"`
	Result             string    `json:"result,omitempty"`
	Termination        string    `json:"termination,omitempty"`
	Role               string    `json:"role,omitempty"`
}
