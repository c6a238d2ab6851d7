package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"presenceboard/internal/config"
	"presenceboard/internal/presence"
	"presenceboard/pkg/types"
)

// fakeVerifier maps tokens to user IDs.
type fakeVerifier struct {
	users map[string]string
}

func (v *fakeVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	userID, ok := v.users[token]
	if !ok {
		return "", errors.New("token rejected")
	}
	return userID, nil
}

// stubDirectory serves canned profiles.
type stubDirectory struct {
	profiles map[string]types.Profile
}

func (d *stubDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]types.Profile, error) {
	result := make(map[string]types.Profile)
	for _, id := range userIDs {
		if p, ok := d.profiles[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

type handlerFixture struct {
	handler  *Handler
	registry *Registry
	presence *presence.Registry
	server   *httptest.Server
}

func newHandlerFixture(t *testing.T, verifier *fakeVerifier, dir *stubDirectory) *handlerFixture {
	t.Helper()

	logger := zap.NewNop()
	presenceRegistry := presence.NewRegistry()
	connectionRegistry := NewRegistry()
	roster := presence.NewRoster(presenceRegistry, dir, logger)

	cfg := &config.WebSocketConfig{
		PingInterval: 100 * time.Millisecond,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
		BufferSize:   16,
	}

	handler := NewHandler(connectionRegistry, presenceRegistry, roster, verifier, dir, cfg, logger)
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))

	t.Cleanup(server.Close)

	return &handlerFixture{
		handler:  handler,
		registry: connectionRegistry,
		presence: presenceRegistry,
		server:   server,
	}
}

func (f *handlerFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}

	var event map[string]interface{}
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("received invalid JSON: %v", err)
	}
	return event
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func teacherProfile(userID, fullName string) types.Profile {
	return types.Profile{
		UserID:   userID,
		FullName: fullName,
		Role:     types.RoleTeacher,
	}
}

func TestHandler_AuthenticateTeacher(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{"good-token": "t1"}}
	dir := &stubDirectory{profiles: map[string]types.Profile{"t1": teacherProfile("t1", "Ada")}}
	fixture := newHandlerFixture(t, verifier, dir)

	conn := fixture.dial(t)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "good-token"})

	event := readEvent(t, conn)
	if event["type"] != "authenticated" {
		t.Fatalf("expected authenticated event, got %v", event)
	}
	if event["userId"] != "t1" {
		t.Errorf("expected userId t1, got %v", event["userId"])
	}
	if event["role"] != "teacher" {
		t.Errorf("expected role teacher, got %v", event["role"])
	}

	waitFor(t, "presence entry", func() bool {
		entry, exists := fixture.presence.Get("t1")
		return exists && entry.FullName == "Ada"
	})
	waitFor(t, "channel registration", func() bool {
		return len(fixture.registry.ChannelsFor("t1")) == 1
	})
}

func TestHandler_AuthenticateInvalidToken(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{}}
	fixture := newHandlerFixture(t, verifier, &stubDirectory{})

	conn := fixture.dial(t)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "bad-token"})

	event := readEvent(t, conn)
	if event["type"] != "error" {
		t.Fatalf("expected error event, got %v", event)
	}
	if event["message"] != "Invalid token" {
		t.Errorf("expected 'Invalid token', got %v", event["message"])
	}

	if fixture.presence.Len() != 0 {
		t.Error("failed authentication must not create presence")
	}
	if stats := fixture.registry.Stats(); stats["total_channels"] != 0 {
		t.Error("failed authentication must not register a channel")
	}
}

func TestHandler_AuthenticateEmptyToken(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{"": "should-never-resolve"}}
	fixture := newHandlerFixture(t, verifier, &stubDirectory{})

	conn := fixture.dial(t)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: ""})

	event := readEvent(t, conn)
	if event["type"] != "error" {
		t.Fatalf("an empty token must be rejected before verification, got %v", event)
	}
}

func TestHandler_AuthenticateStudentStaysUntracked(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{"student-token": "s1"}}
	dir := &stubDirectory{profiles: map[string]types.Profile{
		"s1": {UserID: "s1", FullName: "Sam", Role: types.RoleStudent},
	}}
	fixture := newHandlerFixture(t, verifier, dir)

	conn := fixture.dial(t)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "student-token"})

	event := readEvent(t, conn)
	if event["type"] != "authenticated" {
		t.Fatalf("expected authenticated event, got %v", event)
	}
	if event["role"] != "student" {
		t.Errorf("expected role student, got %v", event["role"])
	}

	if fixture.presence.Len() != 0 {
		t.Error("students must not appear in presence")
	}
	if stats := fixture.registry.Stats(); stats["total_channels"] != 0 {
		t.Error("students must not be registered for dispatch")
	}
}

func TestHandler_SecondAuthenticateIgnored(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{"good-token": "t1"}}
	dir := &stubDirectory{profiles: map[string]types.Profile{"t1": teacherProfile("t1", "Ada")}}
	fixture := newHandlerFixture(t, verifier, dir)

	conn := fixture.dial(t)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "good-token"})
	readEvent(t, conn)

	// A second authenticate is ignored without a reply; the next response
	// must belong to the roster query that follows it.
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "good-token"})
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeListTeachers})

	event := readEvent(t, conn)
	if event["type"] != "teachers_online" {
		t.Fatalf("expected teachers_online after ignored re-authenticate, got %v", event)
	}
}

func TestHandler_ListTeachersWithoutAuthentication(t *testing.T) {
	fixture := newHandlerFixture(t, &fakeVerifier{}, &stubDirectory{})

	conn := fixture.dial(t)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeListTeachers})

	event := readEvent(t, conn)
	if event["type"] != "teachers_online" {
		t.Fatalf("roster query must work unauthenticated, got %v", event)
	}

	teachers, ok := event["teachers"].([]interface{})
	if !ok {
		t.Fatalf("teachers must be a JSON array even when empty, got %T", event["teachers"])
	}
	if len(teachers) != 0 {
		t.Errorf("expected empty roster, got %v", teachers)
	}
}

func TestHandler_PingRefreshesPresence(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{"good-token": "t1"}}
	dir := &stubDirectory{profiles: map[string]types.Profile{"t1": teacherProfile("t1", "Ada")}}
	fixture := newHandlerFixture(t, verifier, dir)

	conn := fixture.dial(t)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "good-token"})
	readEvent(t, conn)

	waitFor(t, "presence entry", func() bool {
		_, exists := fixture.presence.Get("t1")
		return exists
	})
	before, _ := fixture.presence.Get("t1")

	// Wall clock granularity is milliseconds; give it room to advance.
	time.Sleep(5 * time.Millisecond)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypePing})

	waitFor(t, "refreshed last_seen", func() bool {
		after, exists := fixture.presence.Get("t1")
		return exists && after.LastSeen > before.LastSeen
	})
}

func TestHandler_MalformedMessageIgnored(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{"good-token": "t1"}}
	dir := &stubDirectory{profiles: map[string]types.Profile{"t1": teacherProfile("t1", "Ada")}}
	fixture := newHandlerFixture(t, verifier, dir)

	conn := fixture.dial(t)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send malformed frame: %v", err)
	}

	// The connection must survive and still process valid messages.
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "good-token"})
	event := readEvent(t, conn)
	if event["type"] != "authenticated" {
		t.Fatalf("connection should survive malformed input, got %v", event)
	}
}

func TestHandler_DisconnectRemovesPresence(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{"good-token": "t1"}}
	dir := &stubDirectory{profiles: map[string]types.Profile{"t1": teacherProfile("t1", "Ada")}}
	fixture := newHandlerFixture(t, verifier, dir)

	conn := fixture.dial(t)
	sendMessage(t, conn, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "good-token"})
	readEvent(t, conn)

	waitFor(t, "presence entry", func() bool {
		_, exists := fixture.presence.Get("t1")
		return exists
	})

	conn.Close()

	waitFor(t, "presence removal", func() bool {
		_, exists := fixture.presence.Get("t1")
		return !exists
	})
	waitFor(t, "channel unregistration", func() bool {
		return fixture.registry.Stats()["total_channels"] == 0
	})
}

func TestHandler_ConcurrentHandoffKeepsPresence(t *testing.T) {
	presenceRegistry := presence.NewRegistry()
	connectionRegistry := NewRegistry()
	roster := presence.NewRoster(presenceRegistry, &stubDirectory{}, zap.NewNop())
	cfg := &config.WebSocketConfig{
		PingInterval: time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		BufferSize:   1,
	}
	handler := NewHandler(connectionRegistry, presenceRegistry, roster, &fakeVerifier{}, &stubDirectory{}, cfg, zap.NewNop())

	// One teacher, two channels: the old channel tears down while the new
	// one registers. Whatever the interleaving, an identity with a
	// registered channel must keep its presence entry.
	for i := 0; i < 200; i++ {
		oldChannel := NewConnection(nil, 1, time.Second)
		newChannel := NewConnection(nil, 1, time.Second)

		handler.registerTeacher("t1", "Ada", nil, nil, oldChannel)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			handler.registerTeacher("t1", "Ada", nil, nil, newChannel)
		}()
		go func() {
			defer wg.Done()
			handler.releaseTeacher("t1", oldChannel)
		}()
		wg.Wait()

		if got := len(connectionRegistry.ChannelsFor("t1")); got != 1 {
			t.Fatalf("iteration %d: expected 1 registered channel, got %d", i, got)
		}
		if _, exists := presenceRegistry.Get("t1"); !exists {
			t.Fatalf("iteration %d: presence entry lost while a channel remains", i)
		}

		handler.releaseTeacher("t1", newChannel)
		oldChannel.Close()
		newChannel.Close()
	}
}

func TestHandler_PresenceSurvivesWhileOtherConnectionsRemain(t *testing.T) {
	verifier := &fakeVerifier{users: map[string]string{"good-token": "t1"}}
	dir := &stubDirectory{profiles: map[string]types.Profile{"t1": teacherProfile("t1", "Ada")}}
	fixture := newHandlerFixture(t, verifier, dir)

	first := fixture.dial(t)
	sendMessage(t, first, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "good-token"})
	readEvent(t, first)

	second := fixture.dial(t)
	sendMessage(t, second, types.ClientMessage{Type: types.MessageTypeAuthenticate, Token: "good-token"})
	readEvent(t, second)

	waitFor(t, "two registered channels", func() bool {
		return len(fixture.registry.ChannelsFor("t1")) == 2
	})

	first.Close()

	waitFor(t, "one remaining channel", func() bool {
		return len(fixture.registry.ChannelsFor("t1")) == 1
	})
	if _, exists := fixture.presence.Get("t1"); !exists {
		t.Error("presence must survive while another connection remains")
	}

	second.Close()

	waitFor(t, "presence removal", func() bool {
		_, exists := fixture.presence.Get("t1")
		return !exists
	})
}
