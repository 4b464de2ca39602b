package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type WSHandler struct {
	rooms    *app.RoomService
	game     *app.GameService
	presence *app.PresenceTracker
	realtime app.RealtimeStore
	upgrader websocket.Upgrader
}

func NewWSHandler(rooms *app.RoomService, game *app.GameService, presence *app.PresenceTracker, realtime app.RealtimeStore) *WSHandler {
	return &WSHandler{
		rooms:    rooms,
		game:     game,
		presence: presence,
		realtime: realtime,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type readyPayload struct {
	Ready bool `json:"ready"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Option     int    `json:"option"`
}

type kickPayload struct {
	PlayerID string `json:"playerId"`
}

type chatPayload struct {
	Body string `json:"body"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	Room   domain.Room     `json:"room"`
	Player domain.Player   `json:"player"`
	Roster []domain.Player `json:"roster"`
}

// ServeWS upgrades the request, joins the caller into the room and pumps
// room events to the socket until it closes. The connection itself is the
// presence lease: the handler renews it on a timer and releases it when the
// read loop exits.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomOrCode := r.URL.Query().Get("room")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if roomOrCode == "" || userID == "" || displayName == "" {
		http.Error(w, "missing room, userId, or name", http.StatusBadRequest)
		return
	}
	password := r.URL.Query().Get("password")
	avatarURL := r.URL.Query().Get("avatar")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	identity := domain.Identity{UserID: userID, DisplayName: displayName, AvatarURL: avatarURL}
	room, player, err := h.rooms.JoinRoom(r.Context(), roomOrCode, identity, password)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel, err := h.realtime.Subscribe(r.Context(), room.ID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	if err := h.presence.Connected(r.Context(), room.ID, player.ID); err != nil {
		log.Printf("presence connect %s/%s: %v", room.ID, player.ID, err)
	}
	defer func() {
		if err := h.presence.Disconnected(r.Context(), room.ID, player.ID); err != nil {
			log.Printf("presence disconnect %s/%s: %v", room.ID, player.ID, err)
		}
	}()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		renew := time.NewTicker(h.presence.LeaseTTL() / 2)
		defer renew.Stop()
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				// A kick event addressed to this player terminates the
				// connection; everything else is forwarded verbatim.
				if event.Type == app.EventKicked && kickTargets(event.Payload, player.ID) {
					select {
					case send <- outboundMessage[any]{Type: event.Type, Payload: event.Payload}:
					case <-closeSignals:
					}
					conn.Close()
					return
				}
				select {
				case send <- outboundMessage[any]{Type: event.Type, Payload: event.Payload}:
				case <-closeSignals:
					return
				}
			case <-renew.C:
				if err := h.presence.Renew(r.Context(), room.ID, player.ID); err != nil {
					log.Printf("presence renew %s/%s: %v", room.ID, player.ID, err)
				}
			case <-closeSignals:
				return
			}
		}
	}()

	h.sendSnapshot(r, send, room, player)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, send, room.ID, player.ID, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// sendSnapshot brings a (re)connecting client up to date before any live
// events: room, roster, and mid-game the current question and standings.
func (h *WSHandler) sendSnapshot(r *http.Request, send chan<- outboundMessage[any], room domain.Room, player domain.Player) {
	roster, err := h.rooms.Roster(r.Context(), room.ID)
	if err != nil {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		return
	}
	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{Room: room, Player: player, Roster: roster}}

	if room.Status != domain.StatusPlaying {
		return
	}
	view, err := h.game.PlayerQuestion(r.Context(), room.ID, player.ID)
	if err != nil {
		log.Printf("snapshot question %s/%s: %v", room.ID, player.ID, err)
	} else {
		send <- outboundMessage[any]{Type: app.EventQuestion, Payload: view}
	}
	lb, err := h.game.Leaderboard(r.Context(), room.ID)
	if err != nil {
		log.Printf("snapshot leaderboard %s: %v", room.ID, err)
	} else {
		send <- outboundMessage[any]{Type: app.EventLeaderboard, Payload: lb}
	}
}

func (h *WSHandler) dispatch(r *http.Request, send chan<- outboundMessage[any], roomID, playerID string, inbound inboundMessage) {
	switch inbound.Type {
	case "ready":
		var payload readyPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid ready payload"}}
			return
		}
		if err := h.rooms.SetReady(r.Context(), roomID, playerID, payload.Ready); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	case "start":
		if _, err := h.rooms.StartGame(r.Context(), roomID, playerID); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
			return
		}
		result, err := h.game.SubmitAnswer(r.Context(), roomID, playerID, payload.QuestionID, payload.Option)
		if err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			return
		}
		send <- outboundMessage[any]{Type: "answerResult", Payload: result}
	case "next":
		if err := h.game.NextQuestion(r.Context(), roomID, playerID); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	case "kick":
		var payload kickPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid kick payload"}}
			return
		}
		if err := h.rooms.KickPlayer(r.Context(), roomID, playerID, payload.PlayerID); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	case "chat":
		var payload chatPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid chat payload"}}
			return
		}
		roster, err := h.rooms.Roster(r.Context(), roomID)
		if err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			return
		}
		identity := domain.Identity{UserID: playerID}
		for _, p := range roster {
			if p.ID == playerID {
				identity.DisplayName = p.DisplayName
				identity.AvatarURL = p.AvatarURL
			}
		}
		if err := h.rooms.SendChat(r.Context(), roomID, identity, payload.Body); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	case "leave":
		if err := h.rooms.LeaveRoom(r.Context(), roomID, playerID); err != nil && !errors.Is(err, domain.ErrPlayerNotFound) {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	default:
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
}

func kickTargets(payload json.RawMessage, playerID string) bool {
	var body struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false
	}
	return body.PlayerID == playerID
}
