package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/codecollab/backend/database"
	"github.com/codecollab/backend/models"
	"github.com/codecollab/backend/sandbox"
	"github.com/codecollab/backend/utils"
	"gorm.io/gorm/clause"
)

// JoinRoomPayload carries a join request with its session token.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Token  string `json:"token"`
}

// CodeChangePayload carries one full-document edit.
type CodeChangePayload struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// RunCodePayload carries an execution request.
type RunCodePayload struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// ReadyPayload announces a member is ready for call setup.
type ReadyPayload struct {
	RoomID string `json:"roomId"`
}

// SignalPayload carries an opaque peer-negotiation message. The relay never
// inspects Signal.
type SignalPayload struct {
	RoomID string          `json:"roomId"`
	Signal json.RawMessage `json:"signal"`
}

// ChatPayload carries one chat message.
type ChatPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type documentPayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type chatBroadcast struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleIncomingMessage routes one inbound event to its handler.
func HandleIncomingMessage(c *Client, messageBytes []byte) {
	var msg Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("error unmarshaling message: %v", err)
		return
	}

	switch msg.Event {
	case "joinRoom":
		var payload JoinRoomPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("error unmarshaling joinRoom payload: %v", err)
			return
		}
		handleJoinRoom(c, payload)
	case "codeChange":
		var payload CodeChangePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("error unmarshaling codeChange payload: %v", err)
			return
		}
		handleCodeChange(c, payload)
	case "runCode":
		var payload RunCodePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("error unmarshaling runCode payload: %v", err)
			return
		}
		handleRunCode(c, payload)
	case "ready":
		var payload ReadyPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("error unmarshaling ready payload: %v", err)
			return
		}
		handleReady(c, payload)
	case "signal":
		var payload SignalPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("error unmarshaling signal payload: %v", err)
			return
		}
		handleSignal(c, payload)
	case "chatMessage":
		var payload ChatPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("error unmarshaling chatMessage payload: %v", err)
			return
		}
		handleChatMessage(c, payload)
	default:
		log.Printf("unknown event %q", msg.Event)
	}
}

// handleJoinRoom verifies the session token, registers the connection in the
// room and pushes the initial state (document snapshot and chat history) to
// the joiner only.
func handleJoinRoom(c *Client, payload JoinRoomPayload) {
	claims, err := utils.VerifyToken(payload.Token)
	if err != nil {
		log.Printf("rejected join for room %s: %v", payload.RoomID, err)
		c.sendEvent("authError", "Invalid or expired token.")
		return
	}

	c.setIdentity(claims.Username, payload.RoomID)
	members := c.hub.joinRoom(c, payload.RoomID)
	log.Printf("Authenticated user %s joined room %s (members: %d)", claims.Username, payload.RoomID, members)

	// A missing or unreadable snapshot degrades to no push, never to a
	// failed join.
	var doc models.Document
	if err := database.DB.Where("room_id = ?", payload.RoomID).First(&doc).Error; err == nil {
		c.sendEvent("loadDocument", documentPayload{Code: doc.Code, Language: doc.Language})
	}

	var chats []models.ChatMessage
	if err := database.DB.Where("room_id = ?", payload.RoomID).
		Order("timestamp ASC, id ASC").
		Find(&chats).Error; err != nil {
		log.Printf("Error loading chat history for room %s: %v", payload.RoomID, err)
	} else if len(chats) > 0 {
		c.sendEvent("loadChatHistory", chats)
	}

	// With two or more members present, call setup may proceed: the members
	// already in the room are told a callee has arrived.
	if members > 1 {
		broadcastEvent(c.hub, payload.RoomID, "readyForCall", nil, c)
	}
}

// handleCodeChange applies one last-writer-wins edit: snapshot overwrite,
// history append, broadcast to the other members. The room's exclusive
// section serializes the read-modify-write against concurrent edits.
func handleCodeChange(c *Client, payload CodeChangePayload) {
	username, room, joined := c.identity()
	if !joined || room != payload.RoomID {
		log.Printf("ignoring codeChange for room %s from a connection not joined to it", payload.RoomID)
		return
	}

	lock := c.hub.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	// Persistence is best-effort durability; the live broadcast proceeds
	// even when storage is down.
	doc := models.Document{RoomID: room, Code: payload.Code, Language: payload.Language}
	if err := database.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "language", "updated_at"}),
	}).Create(&doc).Error; err != nil {
		log.Printf("Error saving document for room %s: %v", room, err)
	}

	entry := models.CodeHistory{RoomID: room, Code: payload.Code, Language: payload.Language, Username: username}
	if err := database.DB.Create(&entry).Error; err != nil {
		log.Printf("Error saving code history for room %s: %v", room, err)
	}

	broadcastEvent(c.hub, room, "codeUpdate", payload.Code, c)
}

// handleRunCode launches an execution job on its own goroutine so a slow job
// never blocks this connection's event loop or its room. The result goes to
// the requester only; if the requester disconnected meanwhile, the output is
// dropped.
func handleRunCode(c *Client, payload RunCodePayload) {
	_, room, joined := c.identity()
	if !joined || room != payload.RoomID {
		log.Printf("ignoring runCode for room %s from a connection not joined to it", payload.RoomID)
		return
	}

	log.Printf("Running %s code for room %s", payload.Language, payload.RoomID)
	go func() {
		result, err := sandbox.Run(context.Background(), payload.Code, payload.Language)
		c.sendEvent("codeResult", formatRunResult(result, err))
	}()
}

func formatRunResult(result *sandbox.Result, err error) string {
	switch {
	case errors.Is(err, sandbox.ErrUnsupportedLanguage):
		return "Language not supported."
	case errors.Is(err, sandbox.ErrTimeout):
		return "Execution timed out."
	case errors.Is(err, sandbox.ErrUnavailable):
		return "Execution engine unavailable."
	case err != nil:
		return "Error:\n" + err.Error()
	case result.ExitCode != 0:
		detail := result.Stderr
		if detail == "" {
			detail = result.Stdout
		}
		return fmt.Sprintf("Error (exit code %d):\n%s", result.ExitCode, detail)
	default:
		return "Output:\n" + result.Stdout + result.Stderr
	}
}

// handleReady relays a call announcement to the other members.
func handleReady(c *Client, payload ReadyPayload) {
	_, room, joined := c.identity()
	if !joined || room != payload.RoomID {
		return
	}
	broadcastEvent(c.hub, room, "startCall", nil, c)
}

// handleSignal blindly forwards an opaque negotiation payload to the other
// members of the room.
func handleSignal(c *Client, payload SignalPayload) {
	_, room, joined := c.identity()
	if !joined || room != payload.RoomID {
		return
	}
	broadcastEvent(c.hub, room, "signal", payload.Signal, c)
}

// handleChatMessage echoes a chat message room-wide, sender included, then
// persists it. The room lock keeps the per-room chat order total.
func handleChatMessage(c *Client, payload ChatPayload) {
	username, room, joined := c.identity()
	if !joined || room != payload.RoomID {
		log.Printf("ignoring chatMessage for room %s from a connection not joined to it", payload.RoomID)
		return
	}

	lock := c.hub.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	timestamp := time.Now().UTC()
	broadcastEvent(c.hub, room, "newChatMessage", chatBroadcast{
		Username:  username,
		Message:   payload.Message,
		Timestamp: timestamp,
	}, nil)

	msg := models.ChatMessage{RoomID: room, Username: username, Message: payload.Message, Timestamp: timestamp}
	if err := database.DB.Create(&msg).Error; err != nil {
		log.Printf("Failed to save chat for room %s: %v", room, err)
	}
}

// broadcastEvent marshals an event envelope and fans it out to a room. A nil
// except sends room-wide.
func broadcastEvent(h *Hub, roomID, event string, payload interface{}, except *Client) {
	data, err := json.Marshal(outMessage{Event: event, Payload: payload})
	if err != nil {
		log.Printf("error marshaling %s event: %v", event, err)
		return
	}
	h.broadcastToRoom(roomID, data, except)
}
