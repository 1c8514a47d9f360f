package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/grading"
	"github.com/tcriess/lightspeed-contest/persistence"
	"github.com/tcriess/lightspeed-contest/room"
	"github.com/tcriess/lightspeed-contest/types"
)

// api is the small HTTP surface next to the websocket: health, room creation and read-only room views.
type api struct {
	rooms        *room.Store
	docs         *persistence.Documents
	leaderboards *grading.Leaderboards
	historySize  int
	logger       hclog.Logger
}

func newAPI(rooms *room.Store, docs *persistence.Documents, leaderboards *grading.Leaderboards, historySize int, logger hclog.Logger) *api {
	return &api{
		rooms:        rooms,
		docs:         docs,
		leaderboards: leaderboards,
		historySize:  historySize,
		logger:       logger,
	}
}

func (a *api) routes(router *mux.Router) {
	router.HandleFunc("/health", a.health).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms", a.createRoom).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/{code}", a.getRoom).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{code}/leaderboard", a.getLeaderboard).Methods(http.MethodGet)
	router.HandleFunc("/api/problems", a.listProblems).Methods(http.MethodGet)
	router.HandleFunc("/api/problems/seed", a.seedProblems).Methods(http.MethodPost)
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("could not write response", "error", err)
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"error": message})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"timestamp": types.Timestamp(time.Now()),
		"rooms":     a.rooms.Len(),
	})
}

func (a *api) createRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := a.rooms.CreateRoom()
	if err != nil {
		a.logger.Error("could not create room", "error", err)
		a.writeError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}
	if err := a.docs.CreateRoom(r.Context(), rm.Code, ""); err != nil {
		a.logger.Error("could not store room", "room", rm.Code, "error", err)
	}
	a.writeJSON(w, http.StatusCreated, map[string]string{"roomCode": rm.Code})
}

func (a *api) getRoom(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	snap, ok := a.rooms.Snapshot(code, a.historySize)
	if !ok {
		a.writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *api) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if !room.ValidCode(code) {
		a.writeError(w, http.StatusBadRequest, "Invalid room code")
		return
	}
	entries, err := a.leaderboards.Build(r.Context(), code)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		a.logger.Error("could not build leaderboard", "room", code, "error", err)
		a.writeError(w, http.StatusInternalServerError, "Failed to get leaderboard")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

func (a *api) listProblems(w http.ResponseWriter, r *http.Request) {
	problems, err := a.docs.ListProblems(r.Context())
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		a.logger.Error("could not list problems", "error", err)
		a.writeError(w, http.StatusInternalServerError, "Failed to get problems")
		return
	}
	for i := range problems {
		problems[i] = problems[i].Public()
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"problems": problems})
}

func (a *api) seedProblems(w http.ResponseWriter, r *http.Request) {
	n, err := a.docs.SeedProblems(r.Context())
	if err != nil {
		a.logger.Error("could not seed problems", "error", err)
		a.writeError(w, http.StatusInternalServerError, "Failed to seed problems")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Problems seeded successfully", "count": n})
}
