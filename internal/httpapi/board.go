package httpapi

import (
	"net/http"
	"strconv"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/render"
)

func (s *Server) board(w http.ResponseWriter, r *http.Request) {
	id := gameID(r)
	if !s.validID(w, r, id) {
		return
	}
	rec, err := s.deps.Coord.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}

	orientation := game.White
	if o := r.URL.Query().Get("orientation"); o != "" {
		c, err := game.ParseColor(o)
		if err != nil {
			s.writeError(w, r, err, msgData{GameID: id})
			return
		}
		orientation = c
	} else if c := rec.ColorOf(s.viewer(r, id)); c != game.NoColor {
		orientation = c
	}

	opts := render.Options{Orientation: orientation, LastMove: rec.LastMove}
	if rec.InCheck {
		opts.CheckSide = rec.Turn
	}
	img, err := s.deps.Renderer.RenderPNG(r.Context(), rec.FEN, opts)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("ETag", strconv.Quote(id+"-"+strconv.FormatInt(rec.Version, 10)+"-"+string(orientation)))
	_, _ = w.Write(img)
}
