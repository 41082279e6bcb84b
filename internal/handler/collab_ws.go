package handler

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// wsConn is the write surface the hub needs from a connection. Satisfied by
// *websocket.Conn.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
}

// CollabHub 드로잉 룸/세션 관리자
//
// Tracks which connections are in which drawing room and relays scene and
// cursor updates. Rooms are created implicitly on first join and deleted
// once their last participant disconnects. There is no auth: any client can
// join any room.
type CollabHub struct {
	rooms map[string]*CollabRoom
	mu    sync.RWMutex
}

// CollabRoom 단일 드로잉 룸
type CollabRoom struct {
	clients map[string]*CollabClient // connection id -> client
	mu      sync.RWMutex

	// broadcastMu is held across an entire broadcast (snapshot plus every
	// write) so that all members of a room observe events in one order.
	broadcastMu sync.Mutex
}

// CollabClient 룸 참가자 연결
type CollabClient struct {
	ID      string
	Name    string
	Conn    wsConn
	writeMu sync.Mutex
}

// collabEvent is the routing envelope of an incoming frame. The full raw
// frame is what gets rebroadcast; this only pulls out type/room/name.
type collabEvent struct {
	Type string          `json:"type"`
	Room json.RawMessage `json:"room"`
	Name string          `json:"name"`
}

// roomUsersMessage is sent to every room member after a join or disconnect.
type roomUsersMessage struct {
	Type    string   `json:"type"`
	Payload []string `json:"payload"`
}

// NewCollabHub CollabHub 생성
func NewCollabHub() *CollabHub {
	return &CollabHub{
		rooms: make(map[string]*CollabRoom),
	}
}

// HandleWebSocket drives one client connection: a read loop that routes
// join/update_scene/cursor_move events and cleans up on disconnect.
// Handlers never do long I/O here; the only network calls in the system run
// inside the pull orchestrator's background task.
func (h *CollabHub) HandleWebSocket(c *websocket.Conn) {
	connID := uuid.NewString()

	defer func() {
		h.Disconnect(connID)
		c.Close()
	}()

	for {
		mt, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}

		var ev collabEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		room := roomKey(ev.Room)
		if room == "" {
			continue
		}

		switch ev.Type {
		case "join":
			h.Join(room, connID, ev.Name, c)
		case "update_scene", "cursor_move":
			// Rebroadcast the frame verbatim to everyone else in the
			// room. No persistence: saving is a separate explicit
			// client action against the drawing API.
			h.RelayToOthers(room, connID, msg)
		}
	}
}

// Join registers the connection under room and broadcasts the updated
// participant list to every member, including the joiner.
func (h *CollabHub) Join(roomID, connID, name string, conn wsConn) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = &CollabRoom{clients: make(map[string]*CollabClient)}
		h.rooms[roomID] = room
	}
	// Insert before releasing the hub lock so a concurrent disconnect
	// cannot evict the room out from under the joiner.
	room.mu.Lock()
	room.clients[connID] = &CollabClient{ID: connID, Name: name, Conn: conn}
	room.mu.Unlock()
	h.mu.Unlock()

	log.Printf("[Collab] User %s joined room %s", name, roomID)
	h.broadcastRoomUsers(roomID, room)
}

// Disconnect removes the connection from the room containing it (a
// connection belongs to at most one room) and broadcasts the updated
// participant list to the remaining members. Unknown connections are a
// no-op. A room whose participant map becomes empty is deleted.
func (h *CollabHub) Disconnect(connID string) {
	h.mu.Lock()
	var (
		roomID string
		room   *CollabRoom
		name   string
	)
	for id, r := range h.rooms {
		r.mu.Lock()
		if client, ok := r.clients[connID]; ok {
			name = client.Name
			delete(r.clients, connID)
			roomID = id
			room = r
			if len(r.clients) == 0 {
				delete(h.rooms, id)
				room = nil
			}
		}
		r.mu.Unlock()
		if roomID != "" {
			break
		}
	}
	h.mu.Unlock()

	if roomID == "" {
		return
	}
	log.Printf("[Collab] User %s left room %s", name, roomID)
	if room != nil {
		h.broadcastRoomUsers(roomID, room)
	}
}

// RelayToOthers sends payload to every room member except the sender.
// Broadcasts into one room never interleave: each runs to completion under
// the room's broadcast lock, so every member sees the same event order.
func (h *CollabHub) RelayToOthers(roomID, senderID string, payload []byte) {
	h.mu.RLock()
	room, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	room.broadcastMu.Lock()
	defer room.broadcastMu.Unlock()

	room.mu.RLock()
	targets := make([]*CollabClient, 0, len(room.clients))
	for id, client := range room.clients {
		if id != senderID {
			targets = append(targets, client)
		}
	}
	room.mu.RUnlock()

	for _, client := range targets {
		h.send(roomID, client, payload)
	}
}

// broadcastRoomUsers sends the full display-name list to every member.
func (h *CollabHub) broadcastRoomUsers(roomID string, room *CollabRoom) {
	room.broadcastMu.Lock()
	defer room.broadcastMu.Unlock()

	room.mu.RLock()
	names := make([]string, 0, len(room.clients))
	targets := make([]*CollabClient, 0, len(room.clients))
	for _, client := range room.clients {
		names = append(names, client.Name)
		targets = append(targets, client)
	}
	room.mu.RUnlock()

	msg, err := json.Marshal(roomUsersMessage{Type: "room_users", Payload: names})
	if err != nil {
		return
	}
	for _, client := range targets {
		h.send(roomID, client, msg)
	}
}

func (h *CollabHub) send(roomID string, client *CollabClient, payload []byte) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// No retry or replay; a member disconnecting mid-broadcast just
		// misses the frame.
		log.Printf("[Collab] Failed to send to %s in room %s: %v", client.ID, roomID, err)
	}
}

// roomKey coerces the room field to a string key. Clients send the drawing
// id either as a JSON string or a bare number.
func roomKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
