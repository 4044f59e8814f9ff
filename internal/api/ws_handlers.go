package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ni-heemang/chat-flow/internal/analysis"
	"github.com/ni-heemang/chat-flow/internal/broadcast"
	"github.com/ni-heemang/chat-flow/internal/bus"
	"github.com/ni-heemang/chat-flow/internal/chat"
	"github.com/ni-heemang/chat-flow/internal/presence"
)

// maxMessageLength caps chat message content.
const maxMessageLength = 1000

// historyOnJoin is how many recent messages a client receives on entering a room.
const historyOnJoin = 50

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens in the CORS middleware for the REST
		// surface; the upgrade accepts any origin and relies on the token.
		return true
	},
}

// wsCommand is the client-to-server frame. Type selects the command, the
// remaining fields apply per command.
type wsCommand struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"roomId"`
	Content  string `json:"content"`
	IsTyping bool   `json:"isTyping"`
}

// WebSocket command types.
const (
	cmdJoinRoom       = "join-room"
	cmdConnectRoom    = "connect-room"
	cmdLeaveRoom      = "leave-room"
	cmdDisconnectRoom = "disconnect-room"
	cmdSendMessage    = "send-message"
	cmdTyping         = "typing"
)

// wsError is the server error frame.
type wsError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsConnected greets a client after a successful upgrade.
type wsConnected struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
}

// wsHistory carries the recent message page sent on room entry.
type wsHistory struct {
	Type     string          `json:"type"`
	RoomID   int64           `json:"roomId"`
	Messages []*chat.Message `json:"messages"`
}

// roomInfoEvent is broadcast on room/{id}/info after membership or presence
// changes.
type roomInfoEvent struct {
	Type             string    `json:"type"`
	RoomID           int64     `json:"roomId"`
	OnlineCount      int       `json:"onlineCount"`
	ParticipantCount int       `json:"participantCount"`
	Timestamp        time.Time `json:"timestamp"`
}

// typingEvent is relayed on room/{id}/typing. Never persisted.
type typingEvent struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"roomId"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// ChatWSHandlers holds dependencies for the chat WebSocket endpoint.
type ChatWSHandlers struct {
	registry    *presence.Registry
	broadcaster *broadcast.Broadcaster
	eventBus    *bus.Bus
	rooms       chat.RoomRepository
	members     chat.MemberRepository
	messages    chat.MessageRepository
	pipeline    *analysis.Pipeline
}

// NewChatWSHandlers creates a new ChatWSHandlers instance.
func NewChatWSHandlers(
	registry *presence.Registry,
	broadcaster *broadcast.Broadcaster,
	eventBus *bus.Bus,
	rooms chat.RoomRepository,
	members chat.MemberRepository,
	messages chat.MessageRepository,
	pipeline *analysis.Pipeline,
) *ChatWSHandlers {
	return &ChatWSHandlers{
		registry:    registry,
		broadcaster: broadcaster,
		eventBus:    eventBus,
		rooms:       rooms,
		members:     members,
		messages:    messages,
		pipeline:    pipeline,
	}
}

// Chat handles GET /ws/chat. One connection per client; rooms are entered and
// left with commands over the socket.
func (h *ChatWSHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := BearerToken(r)
	if token == "" {
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	sessionID := uuid.New().String()
	claims, err := h.registry.Connect(sessionID, token)
	if err != nil {
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err, "username", claims.Username())
		h.registry.Disconnect(ctx, sessionID)
		return
	}

	session := broadcast.NewSession(sessionID, conn)
	// Rooms this connection entered, for the info broadcast on teardown.
	entered := make(map[int64]bool)

	defer func() {
		h.registry.Disconnect(context.Background(), sessionID)
		h.broadcaster.UnsubscribeAll(session)
		conn.Close()
		for roomID := range entered {
			h.publishRoomInfo(context.Background(), roomID)
		}
		slog.InfoContext(ctx, "websocket client disconnected", "session_id", sessionID, "username", claims.Username())
	}()

	if err := session.Send(wsConnected{Type: "connected", Username: claims.Username(), Nickname: claims.DisplayName()}); err != nil {
		slog.WarnContext(ctx, "failed to send welcome frame", "error", err, "session_id", sessionID)
		return
	}

	slog.InfoContext(ctx, "websocket client connected", "session_id", sessionID, "username", claims.Username())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly", "error", err, "session_id", sessionID)
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.sendError(session, ErrCodeBadRequest, "Invalid JSON frame")
			continue
		}

		switch cmd.Type {
		case cmdJoinRoom:
			h.joinRoom(ctx, session, claims.Username(), claims.DisplayName(), cmd.RoomID, entered)
		case cmdConnectRoom:
			h.connectRoom(ctx, session, cmd.RoomID, entered)
		case cmdLeaveRoom:
			h.leaveRoom(ctx, session, claims.Username(), cmd.RoomID, entered)
		case cmdDisconnectRoom:
			h.disconnectRoom(ctx, session, cmd.RoomID, entered)
		case cmdSendMessage:
			h.sendMessage(ctx, session, claims.Username(), claims.DisplayName(), cmd)
		case cmdTyping:
			h.typing(session, claims.Username(), claims.DisplayName(), cmd)
		default:
			h.sendError(session, ErrCodeBadRequest, fmt.Sprintf("Unknown command %q", cmd.Type))
		}
	}
}

// joinRoom creates (or reactivates) durable membership, binds presence, and
// announces the arrival.
func (h *ChatWSHandlers) joinRoom(ctx context.Context, session *broadcast.Session, username, nickname string, roomID int64, entered map[int64]bool) {
	room, err := h.rooms.GetByID(ctx, roomID)
	if err != nil {
		h.roomLookupError(ctx, session, roomID, err)
		return
	}
	if !room.IsActive {
		h.sendError(session, ErrCodeRoomInactive, "Room is inactive")
		return
	}

	already, err := h.members.IsMember(ctx, roomID, username)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check membership", "error", err, "room_id", roomID, "username", username)
		h.sendError(session, ErrCodeInternal, "Failed to check membership")
		return
	}
	if !already {
		active, err := h.members.CountActive(ctx, roomID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count members", "error", err, "room_id", roomID)
			h.sendError(session, ErrCodeInternal, "Failed to check room capacity")
			return
		}
		if active >= room.MaxParticipants {
			h.sendError(session, ErrCodeRoomFull, "Room is full")
			return
		}
	}

	if _, err := h.members.Add(ctx, roomID, username, ""); err != nil {
		slog.ErrorContext(ctx, "failed to add membership", "error", err, "room_id", roomID, "username", username)
		h.sendError(session, ErrCodeInternal, "Failed to join room")
		return
	}
	if err := h.registry.JoinRoomSession(ctx, roomID, session.ID); err != nil {
		slog.ErrorContext(ctx, "failed to bind presence", "error", err, "room_id", roomID, "session_id", session.ID)
		h.sendError(session, ErrCodeInternal, "Failed to join room")
		return
	}

	h.subscribeRoom(session, roomID)
	entered[roomID] = true

	// Announce only on a fresh join; session reconnects stay quiet.
	if !already {
		h.announce(ctx, roomID, username, fmt.Sprintf("%s joined the room", displayName(nickname, username)))
	}
	h.publishRoomInfo(ctx, roomID)
	h.sendHistory(ctx, session, roomID)
}

// connectRoom binds transport-only presence for previewing a room without
// becoming a member.
func (h *ChatWSHandlers) connectRoom(ctx context.Context, session *broadcast.Session, roomID int64, entered map[int64]bool) {
	if _, err := h.rooms.GetByID(ctx, roomID); err != nil {
		h.roomLookupError(ctx, session, roomID, err)
		return
	}

	if err := h.registry.JoinRoomSession(ctx, roomID, session.ID); err != nil {
		slog.ErrorContext(ctx, "failed to bind presence", "error", err, "room_id", roomID, "session_id", session.ID)
		h.sendError(session, ErrCodeInternal, "Failed to connect to room")
		return
	}

	h.subscribeRoom(session, roomID)
	entered[roomID] = true
	h.publishRoomInfo(ctx, roomID)
	h.sendHistory(ctx, session, roomID)
}

// leaveRoom deactivates membership and announces the departure.
func (h *ChatWSHandlers) leaveRoom(ctx context.Context, session *broadcast.Session, username string, roomID int64, entered map[int64]bool) {
	wasMember, err := h.members.IsMember(ctx, roomID, username)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check membership", "error", err, "room_id", roomID, "username", username)
	}

	if err := h.members.Remove(ctx, roomID, username); err != nil {
		slog.ErrorContext(ctx, "failed to remove membership", "error", err, "room_id", roomID, "username", username)
		h.sendError(session, ErrCodeInternal, "Failed to leave room")
		return
	}
	if err := h.registry.LeaveRoomSession(ctx, roomID, session.ID); err != nil {
		slog.WarnContext(ctx, "failed to release presence", "error", err, "room_id", roomID, "session_id", session.ID)
	}

	h.unsubscribeRoom(session, roomID)
	delete(entered, roomID)

	if wasMember {
		_, nickname, _ := h.registry.Session(session.ID)
		h.announce(ctx, roomID, username, fmt.Sprintf("%s left the room", displayName(nickname, username)))
	}
	h.publishRoomInfo(ctx, roomID)
}

// disconnectRoom releases transport presence without touching membership.
func (h *ChatWSHandlers) disconnectRoom(ctx context.Context, session *broadcast.Session, roomID int64, entered map[int64]bool) {
	if err := h.registry.LeaveRoomSession(ctx, roomID, session.ID); err != nil {
		slog.WarnContext(ctx, "failed to release presence", "error", err, "room_id", roomID, "session_id", session.ID)
	}
	h.unsubscribeRoom(session, roomID)
	delete(entered, roomID)
	h.publishRoomInfo(ctx, roomID)
}

// sendMessage persists a TEXT message, fans it out, and feeds the analysis
// pipeline.
func (h *ChatWSHandlers) sendMessage(ctx context.Context, session *broadcast.Session, username, nickname string, cmd wsCommand) {
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		h.sendError(session, ErrCodeValidation, "Message content is required")
		return
	}
	if len(content) > maxMessageLength {
		h.sendError(session, ErrCodeValidation, fmt.Sprintf("Message content must be at most %d characters", maxMessageLength))
		return
	}

	member, err := h.members.IsMember(ctx, cmd.RoomID, username)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check membership", "error", err, "room_id", cmd.RoomID, "username", username)
		h.sendError(session, ErrCodeInternal, "Failed to check membership")
		return
	}
	if !member {
		h.sendError(session, ErrCodeNotAMember, "Not a member of the room")
		return
	}

	saved, err := h.messages.Append(ctx, &chat.Message{
		RoomID:   cmd.RoomID,
		Username: username,
		Nickname: nickname,
		Content:  content,
		Type:     chat.MessageTypeText,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to persist message", "error", err, "room_id", cmd.RoomID, "username", username)
		h.sendError(session, ErrCodeInternal, "Failed to send message")
		return
	}

	h.eventBus.Publish(bus.RoomTopic(cmd.RoomID), saved)
	h.pipeline.Submit(ctx, saved)
}

// typing relays the indicator without persistence.
func (h *ChatWSHandlers) typing(session *broadcast.Session, username, nickname string, cmd wsCommand) {
	h.eventBus.Publish(bus.RoomTypingTopic(cmd.RoomID), typingEvent{
		Type:     "TYPING",
		RoomID:   cmd.RoomID,
		Username: username,
		Nickname: nickname,
		IsTyping: cmd.IsTyping,
	})
}

func (h *ChatWSHandlers) subscribeRoom(session *broadcast.Session, roomID int64) {
	h.broadcaster.Subscribe(bus.RoomTopic(roomID), session)
	h.broadcaster.Subscribe(bus.RoomMembersTopic(roomID), session)
	h.broadcaster.Subscribe(bus.RoomInfoTopic(roomID), session)
	h.broadcaster.Subscribe(bus.RoomTypingTopic(roomID), session)
	h.broadcaster.Subscribe(bus.AnalysisTopic(roomID), session)
}

func (h *ChatWSHandlers) unsubscribeRoom(session *broadcast.Session, roomID int64) {
	h.broadcaster.Unsubscribe(bus.RoomTopic(roomID), session)
	h.broadcaster.Unsubscribe(bus.RoomMembersTopic(roomID), session)
	h.broadcaster.Unsubscribe(bus.RoomInfoTopic(roomID), session)
	h.broadcaster.Unsubscribe(bus.RoomTypingTopic(roomID), session)
	h.broadcaster.Unsubscribe(bus.AnalysisTopic(roomID), session)
}

// announce persists and broadcasts a SYSTEM message. System messages never
// reach the analysis pipeline.
func (h *ChatWSHandlers) announce(ctx context.Context, roomID int64, username, content string) {
	saved, err := h.messages.Append(ctx, &chat.Message{
		RoomID:   roomID,
		Username: username,
		Content:  content,
		Type:     chat.MessageTypeSystem,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to persist system message", "error", err, "room_id", roomID)
		return
	}
	h.eventBus.Publish(bus.RoomTopic(roomID), saved)
}

// publishRoomInfo broadcasts current counts and stores the live participant
// count on the room row.
func (h *ChatWSHandlers) publishRoomInfo(ctx context.Context, roomID int64) {
	online := h.registry.OnlineCount(roomID)
	participants, err := h.members.CountActive(ctx, roomID)
	if err != nil {
		slog.WarnContext(ctx, "failed to count members", "error", err, "room_id", roomID)
	}

	h.eventBus.Publish(bus.RoomInfoTopic(roomID), roomInfoEvent{
		Type:             "ROOM_INFO",
		RoomID:           roomID,
		OnlineCount:      online,
		ParticipantCount: participants,
		Timestamp:        time.Now(),
	})

	if err := h.rooms.UpdateParticipants(ctx, roomID, online); err != nil {
		slog.WarnContext(ctx, "failed to update participant count", "error", err, "room_id", roomID)
	}
}

func (h *ChatWSHandlers) sendHistory(ctx context.Context, session *broadcast.Session, roomID int64) {
	recent, err := h.messages.Recent(ctx, roomID, historyOnJoin)
	if err != nil {
		slog.WarnContext(ctx, "failed to load message history", "error", err, "room_id", roomID)
		return
	}
	if err := session.Send(wsHistory{Type: "history", RoomID: roomID, Messages: recent}); err != nil {
		slog.WarnContext(ctx, "failed to send history", "error", err, "session_id", session.ID)
	}
}

func (h *ChatWSHandlers) roomLookupError(ctx context.Context, session *broadcast.Session, roomID int64, err error) {
	if errors.Is(err, chat.ErrRoomNotFound) {
		h.sendError(session, ErrCodeNotFound, "Room not found")
		return
	}
	slog.ErrorContext(ctx, "failed to get room", "error", err, "room_id", roomID)
	h.sendError(session, ErrCodeInternal, "Failed to retrieve room")
}

func (h *ChatWSHandlers) sendError(session *broadcast.Session, code, message string) {
	if err := session.Send(wsError{Type: "error", Code: code, Message: message}); err != nil {
		slog.Warn("failed to send error frame", "error", err, "session_id", session.ID)
	}
}

func displayName(nickname, username string) string {
	if nickname != "" {
		return nickname
	}
	return username
}
