package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/session"
	"github.com/park285/chess-rooms/pkg/chessdto"
)

const maxBodyBytes = 4 << 10

var errBadRequest = errors.New("bad request")

func gameID(r *http.Request) string { return mux.Vars(r)["id"] }

// decodeBody accepts an empty body as the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadRequest
	}
	return nil
}

// validID rejects ids that cannot be game codes before touching the store.
func (s *Server) validID(w http.ResponseWriter, r *http.Request, id string) bool {
	if session.ValidCode(id) {
		return true
	}
	s.writeError(w, r, game.ErrNotFound, msgData{GameID: id})
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "streams": s.deps.Hub.Active()}
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Resolver.CreateOrJoin(r.Context(), "", "")
	if err != nil {
		s.writeError(w, r, err, msgData{})
		return
	}
	s.finishJoin(w, r, res.Record.ID, http.StatusCreated)
}

func (s *Server) joinGame(w http.ResponseWriter, r *http.Request) {
	id := gameID(r)
	if !s.validID(w, r, id) {
		return
	}
	s.finishJoin(w, r, id, http.StatusOK)
}

// finishJoin resolves the caller (minting a token if needed) and answers
// with its role. The cookie is only set once the game is known to exist.
func (s *Server) finishJoin(w http.ResponseWriter, r *http.Request, id string, status int) {
	signed, sub, minted, err := s.ensureViewer(r, id)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	res, err := s.deps.Resolver.Resolve(r.Context(), id, sub)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	if minted {
		s.setViewerCookie(w, id, signed)
	}
	writeJSON(w, status, chessdto.JoinResponse{
		Status:         "ok",
		GameID:         id,
		Token:          signed,
		Role:           string(res.Role),
		CanChooseColor: res.CanChooseColor,
		Snapshot:       res.Record.Snapshot(res.Role),
	})
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	id := gameID(r)
	if !s.validID(w, r, id) {
		return
	}
	rec, err := s.deps.Coord.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	role := session.RoleOf(rec, s.viewer(r, id))
	writeJSON(w, http.StatusOK, chessdto.StateResponse{Status: "ok", Snapshot: rec.Snapshot(role)})
}

// mutation runs the shared prologue of every token-gated POST.
func (s *Server) mutation(w http.ResponseWriter, r *http.Request) (id, viewer string, ok bool) {
	id = gameID(r)
	if !s.validID(w, r, id) {
		return "", "", false
	}
	viewer, ok = s.requireViewer(w, r, id)
	return id, viewer, ok
}

func (s *Server) writeState(w http.ResponseWriter, rec *game.Record, viewer string) {
	writeJSON(w, http.StatusOK, chessdto.StateResponse{Status: "ok", Snapshot: rec.Snapshot(session.RoleOf(rec, viewer))})
}

func (s *Server) chooseColor(w http.ResponseWriter, r *http.Request) {
	id, viewer, ok := s.mutation(w, r)
	if !ok {
		return
	}
	var req chessdto.ChooseColorRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeCode(w, r, http.StatusBadRequest, "bad_request", false)
		return
	}
	color, err := game.ParseColor(req.Color)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	rec, err := s.deps.Coord.ChooseColor(r.Context(), id, viewer, color)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	s.writeState(w, rec, viewer)
}

func (s *Server) releaseColor(w http.ResponseWriter, r *http.Request) {
	id, viewer, ok := s.mutation(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Coord.ReleaseColor(r.Context(), id, viewer)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	s.writeState(w, rec, viewer)
}

func (s *Server) markReady(w http.ResponseWriter, r *http.Request) {
	id, viewer, ok := s.mutation(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Coord.MarkReady(r.Context(), id, viewer)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	writeJSON(w, http.StatusOK, chessdto.ReadyResponse{
		Status:       "ok",
		Started:      res.Started,
		AlreadyReady: res.AlreadyReady,
		Snapshot:     res.Record.Snapshot(session.RoleOf(res.Record, viewer)),
	})
}

func (s *Server) submitMove(w http.ResponseWriter, r *http.Request) {
	id, viewer, ok := s.mutation(w, r)
	if !ok {
		return
	}
	var req chessdto.MoveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeCode(w, r, http.StatusBadRequest, "bad_request", false)
		return
	}
	in := session.MoveInput{
		From:      strings.ToLower(strings.TrimSpace(req.From)),
		To:        strings.ToLower(strings.TrimSpace(req.To)),
		Promotion: strings.ToLower(strings.TrimSpace(req.Promotion)),
		Ply:       req.Ply,
	}
	res, err := s.deps.Coord.SubmitMove(r.Context(), id, viewer, in)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id, From: in.From, To: in.To, Promotion: in.Promotion})
		return
	}
	writeJSON(w, http.StatusOK, chessdto.MoveResponse{
		Status:   "ok",
		SAN:      res.Outcome.SAN,
		UCI:      res.Outcome.UCI,
		Captured: res.Outcome.Captured,
		Check:    res.Outcome.Check,
		GameOver: res.Record.Status.Terminal(),
		Snapshot: res.Record.Snapshot(session.RoleOf(res.Record, viewer)),
	})
}

func (s *Server) resign(w http.ResponseWriter, r *http.Request) {
	id, viewer, ok := s.mutation(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Coord.Resign(r.Context(), id, viewer)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	s.writeState(w, rec, viewer)
}
