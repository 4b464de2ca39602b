package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// RoomsHandler exposes room lifecycle over plain HTTP. Gameplay itself
// happens on the websocket; these endpoints exist so a lobby UI can create
// and look up rooms before opening a socket.
type RoomsHandler struct {
	rooms *app.RoomService
}

func NewRoomsHandler(rooms *app.RoomService) *RoomsHandler {
	return &RoomsHandler{rooms: rooms}
}

type createRoomRequest struct {
	Name     string              `json:"name"`
	QuizID   string              `json:"quizId"`
	HostID   string              `json:"hostId"`
	HostName string              `json:"hostName"`
	Avatar   string              `json:"avatar"`
	Password string              `json:"password"`
	Settings domain.RoomSettings `json:"settings"`
}

type roomResponse struct {
	Room   domain.Room     `json:"room"`
	Roster []domain.Player `json:"roster,omitempty"`
}

func (h *RoomsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/rooms", h.handleRooms)
	mux.HandleFunc("/rooms/", h.handleRoom)
}

func (h *RoomsHandler) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	host := domain.Identity{UserID: req.HostID, DisplayName: req.HostName, AvatarURL: req.Avatar}
	room, err := h.rooms.CreateRoom(r.Context(), host, req.Name, req.QuizID, req.Password, req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{Room: room})
}

func (h *RoomsHandler) handleRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/rooms/")
	if key == "" {
		http.Error(w, "missing room id or code", http.StatusBadRequest)
		return
	}
	room, err := h.rooms.Room(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	roster, err := h.rooms.Roster(r.Context(), room.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: room, Roster: roster})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrPlayerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrWrongPassword), errors.Is(err, domain.ErrNotHost):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, domain.ErrLateJoinDisabled),
		errors.Is(err, domain.ErrAnswerExists),
		errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrEmptyQuiz):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
