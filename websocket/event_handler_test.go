package websocket

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codecollab/backend/database"
	"github.com/codecollab/backend/models"
	"github.com/codecollab/backend/sandbox"
	"github.com/codecollab/backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Document{}, &models.CodeHistory{}, &models.ChatMessage{}))
	database.DB = db
}

func event(t *testing.T, name string, payload interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(outMessage{Event: name, Payload: payload})
	require.NoError(t, err)
	return data
}

// receiveEvent pops the next queued event for a client and decodes its
// envelope.
func receiveEvent(t *testing.T, c *Client) Message {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal(receiveRaw(t, c), &msg))
	return msg
}

func joinedClient(h *Hub, username, room string) *Client {
	c := newTestClient(h)
	c.setIdentity(username, room)
	h.joinRoom(c, room)
	return c
}

func TestJoinRoomPushesInitialState(t *testing.T) {
	setupTestDB(t)
	h := NewHub()

	require.NoError(t, database.DB.Create(&models.Document{RoomID: "room-1", Code: "print(1)", Language: "python"}).Error)
	base := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, database.DB.Create(&models.ChatMessage{RoomID: "room-1", Username: "bob", Message: "hi", Timestamp: base}).Error)
	require.NoError(t, database.DB.Create(&models.ChatMessage{RoomID: "room-1", Username: "bob", Message: "anyone?", Timestamp: base.Add(time.Second)}).Error)

	token, err := utils.GenerateToken(1, "alice")
	require.NoError(t, err)

	c := newTestClient(h)
	HandleIncomingMessage(c, event(t, "joinRoom", JoinRoomPayload{RoomID: "room-1", Token: token}))

	username, room, joined := c.identity()
	assert.True(t, joined)
	assert.Equal(t, "alice", username)
	assert.Equal(t, "room-1", room)
	assert.Equal(t, 1, h.membersOf("room-1"))

	msg := receiveEvent(t, c)
	assert.Equal(t, "loadDocument", msg.Event)
	var doc documentPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &doc))
	assert.Equal(t, "print(1)", doc.Code)
	assert.Equal(t, "python", doc.Language)

	msg = receiveEvent(t, c)
	assert.Equal(t, "loadChatHistory", msg.Event)
	var chats []models.ChatMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &chats))
	require.Len(t, chats, 2)
	assert.Equal(t, "hi", chats[0].Message)
	assert.Equal(t, "anyone?", chats[1].Message)
}

func TestJoinRoomEmptyRoomPushesNothing(t *testing.T) {
	setupTestDB(t)
	h := NewHub()

	token, err := utils.GenerateToken(1, "alice")
	require.NoError(t, err)

	c := newTestClient(h)
	HandleIncomingMessage(c, event(t, "joinRoom", JoinRoomPayload{RoomID: "empty-room", Token: token}))

	_, _, joined := c.identity()
	assert.True(t, joined)
	assertNoMessage(t, c)
}

func TestJoinRoomRejectsBadToken(t *testing.T) {
	setupTestDB(t)
	h := NewHub()

	c := newTestClient(h)
	HandleIncomingMessage(c, event(t, "joinRoom", JoinRoomPayload{RoomID: "room-1", Token: "garbage"}))

	_, _, joined := c.identity()
	assert.False(t, joined)
	assert.Equal(t, 0, h.membersOf("room-1"))

	msg := receiveEvent(t, c)
	assert.Equal(t, "authError", msg.Event)
}

func TestSecondJoinSignalsReadyForCall(t *testing.T) {
	setupTestDB(t)
	h := NewHub()

	tokenA, err := utils.GenerateToken(1, "alice")
	require.NoError(t, err)
	tokenB, err := utils.GenerateToken(2, "bob")
	require.NoError(t, err)

	a := newTestClient(h)
	HandleIncomingMessage(a, event(t, "joinRoom", JoinRoomPayload{RoomID: "room-1", Token: tokenA}))
	assertNoMessage(t, a)

	b := newTestClient(h)
	HandleIncomingMessage(b, event(t, "joinRoom", JoinRoomPayload{RoomID: "room-1", Token: tokenB}))

	// The prior member is told a callee arrived; the newcomer is not.
	msg := receiveEvent(t, a)
	assert.Equal(t, "readyForCall", msg.Event)
	assertNoMessage(t, b)
}

func TestCodeChangeBroadcastsAndPersists(t *testing.T) {
	setupTestDB(t)
	h := NewHub()
	a := joinedClient(h, "alice", "room-1")
	b := joinedClient(h, "bob", "room-1")

	HandleIncomingMessage(a, event(t, "codeChange", CodeChangePayload{RoomID: "room-1", Code: "print(42)", Language: "python"}))

	msg := receiveEvent(t, b)
	assert.Equal(t, "codeUpdate", msg.Event)
	var code string
	require.NoError(t, json.Unmarshal(msg.Payload, &code))
	assert.Equal(t, "print(42)", code)
	assertNoMessage(t, a)

	var doc models.Document
	require.NoError(t, database.DB.Where("room_id = ?", "room-1").First(&doc).Error)
	assert.Equal(t, "print(42)", doc.Code)

	var entries []models.CodeHistory
	require.NoError(t, database.DB.Where("room_id = ?", "room-1").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "print(42)", entries[0].Code)
}

func TestCodeChangeRequiresJoin(t *testing.T) {
	setupTestDB(t)
	h := NewHub()
	c := newTestClient(h)
	b := joinedClient(h, "bob", "room-1")

	HandleIncomingMessage(c, event(t, "codeChange", CodeChangePayload{RoomID: "room-1", Code: "evil", Language: "python"}))

	assertNoMessage(t, b)
	var count int64
	database.DB.Model(&models.CodeHistory{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestConcurrentEditsLastWriteWins(t *testing.T) {
	setupTestDB(t)
	h := NewHub()
	a := joinedClient(h, "alice", "room-1")
	b := joinedClient(h, "bob", "room-1")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		HandleIncomingMessage(a, event(t, "codeChange", CodeChangePayload{RoomID: "room-1", Code: "alice-1", Language: "python"}))
		HandleIncomingMessage(a, event(t, "codeChange", CodeChangePayload{RoomID: "room-1", Code: "alice-2", Language: "python"}))
	}()
	go func() {
		defer wg.Done()
		HandleIncomingMessage(b, event(t, "codeChange", CodeChangePayload{RoomID: "room-1", Code: "bob-1", Language: "python"}))
		HandleIncomingMessage(b, event(t, "codeChange", CodeChangePayload{RoomID: "room-1", Code: "bob-2", Language: "python"}))
	}()
	wg.Wait()

	// The snapshot equals whichever write the room's exclusive section
	// applied last, and no edit was silently dropped.
	var doc models.Document
	require.NoError(t, database.DB.Where("room_id = ?", "room-1").First(&doc).Error)
	assert.Contains(t, []string{"alice-2", "bob-2"}, doc.Code)

	var count int64
	database.DB.Model(&models.CodeHistory{}).Where("room_id = ?", "room-1").Count(&count)
	assert.Equal(t, int64(4), count)

	assert.Len(t, a.send, 2)
	assert.Len(t, b.send, 2)
}

func TestChatMessageEchoesRoomWideAndPersists(t *testing.T) {
	setupTestDB(t)
	h := NewHub()
	a := joinedClient(h, "alice", "room-1")
	b := joinedClient(h, "bob", "room-1")

	HandleIncomingMessage(a, event(t, "chatMessage", ChatPayload{RoomID: "room-1", Message: "hello"}))
	HandleIncomingMessage(b, event(t, "chatMessage", ChatPayload{RoomID: "room-1", Message: "hey"}))

	// Both members, sender included, see both messages.
	for _, c := range []*Client{a, b} {
		msg := receiveEvent(t, c)
		assert.Equal(t, "newChatMessage", msg.Event)
		var chat chatBroadcast
		require.NoError(t, json.Unmarshal(msg.Payload, &chat))
		assert.Equal(t, "alice", chat.Username)
		assert.Equal(t, "hello", chat.Message)

		msg = receiveEvent(t, c)
		assert.Equal(t, "newChatMessage", msg.Event)
	}

	var chats []models.ChatMessage
	require.NoError(t, database.DB.Where("room_id = ?", "room-1").Order("id ASC").Find(&chats).Error)
	require.Len(t, chats, 2)
	assert.Equal(t, "hello", chats[0].Message)
	assert.Equal(t, "hey", chats[1].Message)
	assert.False(t, chats[1].Timestamp.Before(chats[0].Timestamp))
}

func TestChatMessageRequiresJoin(t *testing.T) {
	setupTestDB(t)
	h := NewHub()
	c := newTestClient(h)

	HandleIncomingMessage(c, event(t, "chatMessage", ChatPayload{RoomID: "room-1", Message: "hello"}))

	var count int64
	database.DB.Model(&models.ChatMessage{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestSignalRelayedVerbatim(t *testing.T) {
	setupTestDB(t)
	h := NewHub()
	a := joinedClient(h, "alice", "room-1")
	b := joinedClient(h, "bob", "room-1")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	HandleIncomingMessage(a, event(t, "signal", SignalPayload{RoomID: "room-1", Signal: payload}))

	msg := receiveEvent(t, b)
	assert.Equal(t, "signal", msg.Event)
	assert.JSONEq(t, string(payload), string(msg.Payload))
	assertNoMessage(t, a)
}

func TestReadyRelaysStartCall(t *testing.T) {
	setupTestDB(t)
	h := NewHub()
	a := joinedClient(h, "alice", "room-1")
	b := joinedClient(h, "bob", "room-1")

	HandleIncomingMessage(a, event(t, "ready", ReadyPayload{RoomID: "room-1"}))

	msg := receiveEvent(t, b)
	assert.Equal(t, "startCall", msg.Event)
	assertNoMessage(t, a)
}

func TestRunCodeUnsupportedLanguage(t *testing.T) {
	setupTestDB(t)
	h := NewHub()
	a := joinedClient(h, "alice", "room-1")
	b := joinedClient(h, "bob", "room-1")

	HandleIncomingMessage(a, event(t, "runCode", RunCodePayload{RoomID: "room-1", Code: "DISPLAY 'HI'.", Language: "cobol"}))

	// Only the requester hears back.
	msg := receiveEvent(t, a)
	assert.Equal(t, "codeResult", msg.Event)
	var text string
	require.NoError(t, json.Unmarshal(msg.Payload, &text))
	assert.Equal(t, "Language not supported.", text)
	assertNoMessage(t, b)

	// No state was touched by the rejected run.
	var count int64
	database.DB.Model(&models.CodeHistory{}).Count(&count)
	assert.Equal(t, int64(0), count)
	database.DB.Model(&models.Document{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestFormatRunResult(t *testing.T) {
	assert.Equal(t, "Language not supported.", formatRunResult(nil, sandbox.ErrUnsupportedLanguage))
	assert.Equal(t, "Execution timed out.", formatRunResult(nil, sandbox.ErrTimeout))
	assert.Equal(t, "Execution engine unavailable.", formatRunResult(nil, sandbox.ErrUnavailable))
	assert.Equal(t, "Output:\nhi\n", formatRunResult(&sandbox.Result{Stdout: "hi\n"}, nil))
	assert.Equal(t, "Error (exit code 1):\nboom\n", formatRunResult(&sandbox.Result{Stderr: "boom\n", ExitCode: 1}, nil))
}
