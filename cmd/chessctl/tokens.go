package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/chess-rooms/internal/client"
)

// tokenFile persists viewer tokens per game so a later invocation keeps the
// same seat, plus the ply of the last position shown for each game.
type tokenFile struct {
	Games map[string]string `yaml:"games"`
	Plies map[string]int    `yaml:"plies,omitempty"`
}

func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".chessctl-tokens.yaml"
	}
	return filepath.Join(dir, "chessctl", "tokens.yaml")
}

func loadTokens(path string) (*tokenFile, error) {
	tf := &tokenFile{Games: map[string]string{}, Plies: map[string]int{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return tf, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, tf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tf.Games == nil {
		tf.Games = map[string]string{}
	}
	if tf.Plies == nil {
		tf.Plies = map[string]int{}
	}
	return tf, nil
}

func (t *tokenFile) apply(c *client.Client) {
	for id, tok := range t.Games {
		c.SetToken(id, tok)
	}
}

func (t *tokenFile) set(id, tok string) {
	if tok != "" {
		t.Games[id] = tok
	}
}

// seen records ply for id and reports whether it changed.
func (t *tokenFile) seen(id string, ply int) bool {
	if id == "" {
		return false
	}
	if cur, ok := t.Plies[id]; ok && cur == ply {
		return false
	}
	t.Plies[id] = ply
	return true
}

func (t *tokenFile) ply(id string) (int, bool) {
	p, ok := t.Plies[id]
	return p, ok
}

func (t *tokenFile) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := yaml.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
