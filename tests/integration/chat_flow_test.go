package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	adminpkg "github.com/portside-labs/minichat/backend/internal/admin"
	"github.com/portside-labs/minichat/backend/internal/auth"
	"github.com/portside-labs/minichat/backend/internal/database"
	"github.com/portside-labs/minichat/backend/internal/messages"
	"github.com/portside-labs/minichat/backend/internal/rooms"
	"github.com/portside-labs/minichat/backend/internal/server"
	"github.com/portside-labs/minichat/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	signingSecret   = "integration-secret"
	jsonContentType = "application/json"
)

func newChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:chat_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Migrate(db, nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := messages.NewStore(messages.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build message store: %v", err)
	}
	registry, err := rooms.NewRegistry(rooms.RegistryConfig{Database: db, MessageRooms: store})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	roomService, err := rooms.NewService(rooms.ServiceConfig{Database: db, Registry: registry})
	if err != nil {
		t.Fatalf("failed to build room service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	adminService, err := adminpkg.NewService(adminpkg.ServiceConfig{Database: db, DefaultMode: adminpkg.RegistrationOpen})
	if err != nil {
		t.Fatalf("failed to build admin service: %v", err)
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "minichat-auth",
		Audience:      "minichat-api",
		TokenTTL:      time.Hour,
	})
	authService, err := auth.NewService(auth.ServiceConfig{Database: db, Tokens: issuer, Policy: adminService})
	if err != nil {
		t.Fatalf("failed to build auth service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Auth:          authService,
		Rooms:         roomService,
		Messages:      store,
		Users:         userService,
		Admin:         adminService,
		Broadcaster:   rooms.NewBroadcaster(nil),
		Subscriptions: rooms.NewListSubscriptions("rooms", nil),
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return testServer
}

func postJSON(t *testing.T, url string, token string, payload any) map[string]any {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d for %s", response.StatusCode, url)
	}
	decoded := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return decoded
}

func getJSON(t *testing.T, url string, token string) map[string]any {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d for %s", response.StatusCode, url)
	}
	decoded := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return decoded
}

func registerAndLogin(t *testing.T, baseURL, username string) string {
	t.Helper()

	begin := getJSON(t, baseURL+"/api/auth/register/begin", "")
	challenge, _ := begin["challenge"].(string)
	postJSON(t, baseURL+"/api/auth/register/complete", "", map[string]any{
		"username":      username,
		"credential_id": "cred-" + username,
		"public_key":    "pk-" + username,
		"challenge":     challenge,
	})

	begin = getJSON(t, baseURL+"/api/auth/login/begin", "")
	challenge, _ = begin["challenge"].(string)
	session := postJSON(t, baseURL+"/api/auth/login/complete", "", map[string]any{
		"credential_id": "cred-" + username,
		"challenge":     challenge,
	})
	token, _ := session["session_token"].(string)
	if token == "" {
		t.Fatalf("expected a session token for %s", username)
	}
	return token
}

func wsURL(baseURL, path string) string {
	return strings.Replace(baseURL, "http", "ws", 1) + path
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	frame := map[string]any{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return frame
}

func TestRoomSessionEndToEnd(t *testing.T) {
	testServer := newChatServer(t)
	aliceToken := registerAndLogin(t, testServer.URL, "alice")
	bobToken := registerAndLogin(t, testServer.URL, "bob")

	aliceConn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/api/rooms/general/ws?token="+aliceToken), nil)
	if err != nil {
		t.Fatalf("alice failed to connect: %v", err)
	}
	defer aliceConn.Close()

	connected := readFrame(t, aliceConn)
	if connected["type"] != "connected" || connected["room"] != "general" || connected["username"] != "alice" {
		t.Fatalf("unexpected handshake frame %v", connected)
	}

	bobConn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/api/rooms/general/ws?token="+bobToken), nil)
	if err != nil {
		t.Fatalf("bob failed to connect: %v", err)
	}
	defer bobConn.Close()
	readFrame(t, bobConn)

	if err := aliceConn.WriteJSON(map[string]any{"type": "message", "message": "hello bob"}); err != nil {
		t.Fatalf("alice failed to send: %v", err)
	}

	frame := readFrame(t, bobConn)
	if frame["type"] != "message" {
		t.Fatalf("expected a message frame, got %v", frame)
	}
	data, _ := frame["data"].(map[string]any)
	if data["username"] != "alice" || data["message"] != "hello bob" {
		t.Fatalf("unexpected message payload %v", data)
	}

	// The sender's own connection hears the broadcast too.
	echo := readFrame(t, aliceConn)
	if echo["type"] != "message" {
		t.Fatalf("expected the sender to hear the broadcast, got %v", echo)
	}

	// The message was durably appended and is visible over the pull API.
	history := getJSON(t, testServer.URL+"/api/rooms/general/messages", bobToken)
	records, _ := history["messages"].([]any)
	if len(records) != 1 {
		t.Fatalf("expected one stored message, got %v", history)
	}
}

func TestRoomSessionRejectsBadToken(t *testing.T) {
	testServer := newChatServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/api/rooms/general/ws?token=bogus"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok || closeErr.Code != rooms.CloseUnauthenticated {
		t.Fatalf("expected close code %d, got %v", rooms.CloseUnauthenticated, err)
	}
}

func TestRoomSessionRejectsForeignDM(t *testing.T) {
	testServer := newChatServer(t)
	aliceToken := registerAndLogin(t, testServer.URL, "alice")
	registerAndLogin(t, testServer.URL, "bob")
	carolToken := registerAndLogin(t, testServer.URL, "carol")

	postJSON(t, testServer.URL+"/api/rooms/dm", aliceToken, map[string]any{"username": "bob"})

	roomID := rooms.DirectRoomID("alice", "bob")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/api/rooms/"+roomID+"/ws?token="+carolToken), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok || closeErr.Code != rooms.CloseForbidden {
		t.Fatalf("expected close code %d, got %v", rooms.CloseForbidden, err)
	}
}

func TestRoomListSocketReceivesUpdates(t *testing.T) {
	testServer := newChatServer(t)
	aliceToken := registerAndLogin(t, testServer.URL, "alice")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/api/rooms/ws?token="+aliceToken), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Subscription registration races the create below; give it a moment.
	time.Sleep(100 * time.Millisecond)

	postJSON(t, testServer.URL+"/api/rooms", aliceToken, map[string]any{"room_id": "announcements"})

	frame := readFrame(t, conn)
	if frame["type"] != "update" {
		t.Fatalf("expected an update signal, got %v", frame)
	}
}

func TestMalformedFrameKeepsSessionOpen(t *testing.T) {
	testServer := newChatServer(t)
	aliceToken := registerAndLogin(t, testServer.URL, "alice")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/api/rooms/general/ws?token="+aliceToken), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send malformed frame: %v", err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "error" {
		t.Fatalf("expected an error frame, got %v", frame)
	}

	// The session survives it.
	if err := conn.WriteJSON(map[string]any{"type": "message", "message": "still alive"}); err != nil {
		t.Fatalf("failed to send follow-up: %v", err)
	}
	frame = readFrame(t, conn)
	if frame["type"] != "message" {
		t.Fatalf("expected the follow-up message to broadcast, got %v", frame)
	}
}
