package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(projectID, expertID int64) *Client {
	return &Client{projectID: projectID, expertID: expertID, send: make(chan Envelope, 4)}
}

func receive(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case env, ok := <-c.send:
		require.True(t, ok, "client channel closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func TestDeliverIsScopedToProjectRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop(), "*")
	inRoom := testClient(1, 10)
	otherRoom := testClient(2, 11)
	hub.Register(inRoom)
	hub.Register(otherRoom)

	hub.Publish(context.Background(), Envelope{Type: EventMessage, ProjectID: 1, Message: &Message{ID: 5, Content: "hola"}})

	env := receive(t, inRoom)
	assert.Equal(t, int64(5), env.Message.ID)
	assert.Empty(t, otherRoom.send)
}

func TestUnregisterClosesSendAndEmptiesRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop(), "*")
	c := testClient(1, 10)
	hub.Register(c)
	require.Equal(t, 1, hub.RoomSize(1))

	hub.Unregister(c)
	hub.Unregister(c)

	assert.Equal(t, 0, hub.RoomSize(1))
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestBrainstormClosedDetachesRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop(), "*")
	first := testClient(1, 10)
	second := testClient(1, 11)
	other := testClient(2, 12)
	hub.Register(first)
	hub.Register(second)
	hub.Register(other)

	hub.Publish(context.Background(), Envelope{Type: EventBrainstormClosed, ProjectID: 1})

	assert.Equal(t, 0, hub.RoomSize(1))
	assert.Equal(t, 1, hub.RoomSize(2))
	for _, c := range []*Client{first, second} {
		assert.Equal(t, EventBrainstormClosed, receive(t, c).Type)
		_, ok := <-c.send
		assert.False(t, ok, "subscriber should be detached after closure")
	}

	// later events for the closed room reach nobody
	hub.Deliver(Envelope{Type: EventMessage, ProjectID: 1, Message: &Message{ID: 6}})
	assert.Equal(t, 0, hub.RoomSize(1))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(zerolog.Nop(), "*")
	c := &Client{projectID: 1, expertID: 10, send: make(chan Envelope)}
	hub.Register(c)

	hub.Deliver(Envelope{Type: EventItemChanged, ProjectID: 1, ItemID: 3})

	assert.Equal(t, 0, hub.RoomSize(1))
}

func TestPersonalizeMarksOwnMessages(t *testing.T) {
	msg := &Message{ID: 1, ExpertID: 10}
	mine := testClient(1, 10).personalize(Envelope{Type: EventMessage, Message: msg})
	theirs := testClient(1, 11).personalize(Envelope{Type: EventMessage, Message: msg})

	assert.True(t, mine.Message.Own)
	assert.False(t, theirs.Message.Own)
	assert.False(t, msg.Own, "shared message must not be mutated")
}

func TestServeWSStreamsRoomEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop(), "*")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, 7, 10)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.RoomSize(7) == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(context.Background(), Envelope{
		Type:      EventMessage,
		ProjectID: 7,
		Message:   &Message{ID: 99, Content: "hola panel", ExpertName: "Ana Perez", ExpertID: 10},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Envelope
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventMessage, got.Type)
	require.NotNil(t, got.Message)
	assert.Equal(t, "hola panel", got.Message.Content)
	assert.True(t, got.Message.Own)

	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.RoomSize(7) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWSRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop(), "https://delphi.example")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, 7, 10)
	}))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRelayForwardsAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newInstance := func() (*Hub, *Relay) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		hub := NewHub(zerolog.Nop(), "*")
		relay := NewRelay(client, hub, zerolog.Nop())
		require.NoError(t, relay.Start(ctx))
		t.Cleanup(func() { _ = relay.Close() })
		return hub, relay
	}

	hubA, _ := newInstance()
	hubB, _ := newInstance()

	local := testClient(3, 1)
	remote := testClient(3, 2)
	hubA.Register(local)
	hubB.Register(remote)

	hubA.Publish(ctx, Envelope{Type: EventBrainstormClosed, ProjectID: 3})

	assert.Equal(t, EventBrainstormClosed, receive(t, local).Type)
	assert.Equal(t, EventBrainstormClosed, receive(t, remote).Type)

	// the origin instance must not deliver its own frame twice
	select {
	case env := <-local.send:
		t.Fatalf("unexpected duplicate delivery: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}
