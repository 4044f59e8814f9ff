package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ni-heemang/chat-flow/internal/chat"
	"github.com/ni-heemang/chat-flow/internal/middleware"
)

// defaultRecentMessages bounds the message page returned by the history
// endpoint when the client does not ask for a specific size.
const defaultRecentMessages = 50

// maxRecentMessages caps the message page size.
const maxRecentMessages = 200

// RoomHandlers holds dependencies for room and membership HTTP handlers.
type RoomHandlers struct {
	rooms    chat.RoomRepository
	members  chat.MemberRepository
	messages chat.MessageRepository
}

// NewRoomHandlers creates a new RoomHandlers instance.
func NewRoomHandlers(rooms chat.RoomRepository, members chat.MemberRepository, messages chat.MessageRepository) *RoomHandlers {
	return &RoomHandlers{rooms: rooms, members: members, messages: messages}
}

// Rooms handles the /api/rooms collection: GET lists rooms, POST creates one.
func (h *RoomHandlers) Rooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listRooms(w, r)
	case http.MethodPost:
		h.createRoom(w, r)
	default:
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

// RoomSubtree dispatches /api/rooms/{id} and its subresources.
func (h *RoomHandlers) RoomSubtree(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/rooms/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Room ID is required")
		return
	}

	roomID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Room ID must be an integer")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
			return
		}
		h.getRoom(w, r, roomID)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "join" && r.Method == http.MethodPost:
		h.joinRoom(w, r, roomID)
	case len(parts) == 2 && parts[1] == "leave" && r.Method == http.MethodPost:
		h.leaveRoom(w, r, roomID)
	case len(parts) == 2 && parts[1] == "members" && r.Method == http.MethodGet:
		h.listMembers(w, r, roomID)
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		h.recentMessages(w, r, roomID)
	default:
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	}
}

func (h *RoomHandlers) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list rooms", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to list rooms")
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, rooms)
}

// createRoomRequest is the body for POST /api/rooms.
type createRoomRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	MaxParticipants int    `json:"maxParticipants"`
	IsPrivate       bool   `json:"isPrivate"`
}

func (h *RoomHandlers) createRoom(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUsername(r.Context())
	if username == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Room name is required")
		return
	}
	if len(req.Name) > 100 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Room name must be at most 100 characters")
		return
	}
	if req.MaxParticipants <= 0 {
		req.MaxParticipants = 50
	}
	if req.MaxParticipants > 500 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Max participants must be at most 500")
		return
	}

	room, err := h.rooms.Create(r.Context(), &chat.Room{
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		MaxParticipants: req.MaxParticipants,
		IsPrivate:       req.IsPrivate,
		IsActive:        true,
		CreatedBy:       username,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create room", "error", err, "name", req.Name)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to create room")
		return
	}

	// The creator joins their own room immediately.
	if _, err := h.members.Add(r.Context(), room.ID, username, ""); err != nil {
		slog.ErrorContext(r.Context(), "failed to add creator membership", "error", err, "room_id", room.ID)
	}

	WriteJSON(w, r.Context(), http.StatusCreated, room)
}

func (h *RoomHandlers) getRoom(w http.ResponseWriter, r *http.Request, roomID int64) {
	room, err := h.rooms.GetByID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Room not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get room", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve room")
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, room)
}

// joinRoomRequest is the body for POST /api/rooms/{id}/join.
type joinRoomRequest struct {
	Nickname string `json:"nickname"`
}

func (h *RoomHandlers) joinRoom(w http.ResponseWriter, r *http.Request, roomID int64) {
	username := middleware.GetUsername(r.Context())
	if username == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req joinRoomRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
			return
		}
	}

	room, err := h.rooms.GetByID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Room not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get room", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve room")
		return
	}
	if !room.IsActive {
		WriteError(w, r.Context(), http.StatusGone, ErrCodeRoomInactive, "Room is inactive")
		return
	}

	// Rejoin is always allowed; the capacity check only gates new members.
	already, err := h.members.IsMember(r.Context(), roomID, username)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to check membership", "error", err, "room_id", roomID, "username", username)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to check membership")
		return
	}
	if !already {
		active, err := h.members.CountActive(r.Context(), roomID)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to count members", "error", err, "room_id", roomID)
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to check room capacity")
			return
		}
		if active >= room.MaxParticipants {
			WriteError(w, r.Context(), http.StatusConflict, ErrCodeRoomFull, "Room is full")
			return
		}
	}

	member, err := h.members.Add(r.Context(), roomID, username, strings.TrimSpace(req.Nickname))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to join room", "error", err, "room_id", roomID, "username", username)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to join room")
		return
	}

	WriteJSON(w, r.Context(), http.StatusOK, member)
}

func (h *RoomHandlers) leaveRoom(w http.ResponseWriter, r *http.Request, roomID int64) {
	username := middleware.GetUsername(r.Context())
	if username == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	if _, err := h.rooms.GetByID(r.Context(), roomID); err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Room not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get room", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve room")
		return
	}

	if err := h.members.Remove(r.Context(), roomID, username); err != nil {
		slog.ErrorContext(r.Context(), "failed to leave room", "error", err, "room_id", roomID, "username", username)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to leave room")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandlers) listMembers(w http.ResponseWriter, r *http.Request, roomID int64) {
	if _, err := h.rooms.GetByID(r.Context(), roomID); err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Room not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get room", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve room")
		return
	}

	members, err := h.members.ListByRoom(r.Context(), roomID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list members", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to list members")
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, members)
}

func (h *RoomHandlers) recentMessages(w http.ResponseWriter, r *http.Request, roomID int64) {
	username := middleware.GetUsername(r.Context())
	if username == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	member, err := h.members.IsMember(r.Context(), roomID, username)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to check membership", "error", err, "room_id", roomID, "username", username)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to check membership")
		return
	}
	if !member {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeNotAMember, "Not a member of the room")
		return
	}

	limit := defaultRecentMessages
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		if parsed > maxRecentMessages {
			parsed = maxRecentMessages
		}
		limit = parsed
	}

	messages, err := h.messages.Recent(r.Context(), roomID, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load messages", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to load messages")
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, messages)
}
