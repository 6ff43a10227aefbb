package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rideshare-escrow/internal/data/entity"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readFrame(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case payload := <-s.send:
		var f Frame
		require.NoError(t, json.Unmarshal(payload, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return Frame{}
	}
}

func TestHub_PublishExcludesSenderSession(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := uuid.New()
	driver, passenger := uuid.New(), uuid.New()

	sender := NewSession(hub, nil, room, driver)
	other := NewSession(hub, nil, room, passenger)
	elsewhere := NewSession(hub, nil, uuid.New(), passenger)
	hub.Register(sender)
	hub.Register(other)
	hub.Register(elsewhere)

	msg := &entity.ChatMessage{ID: uuid.New(), RoomID: room, SenderID: driver, Text: "Leaving in 5"}
	require.NoError(t, hub.Publish(context.Background(), msg, sender.ID))

	f := readFrame(t, other)
	assert.Equal(t, FrameMessage, f.Type)
	assert.Equal(t, "Leaving in 5", f.Message.Text)

	assert.Empty(t, sender.send)
	assert.Empty(t, elsewhere.send)
}

func TestHub_Presence(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := uuid.New()
	user := uuid.New()

	s := NewSession(hub, nil, room, user)
	assert.False(t, hub.IsOnline(room, user))

	hub.Register(s)
	assert.True(t, hub.IsOnline(room, user))
	assert.Equal(t, 1, hub.SessionCount(room))

	hub.Unregister(s)
	hub.Unregister(s)
	assert.False(t, hub.IsOnline(room, user))
	assert.Equal(t, 0, hub.SessionCount(room))
}

func TestHub_DropsSlowSession(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := uuid.New()
	s := NewSession(hub, nil, room, uuid.New())
	hub.Register(s)

	for i := 0; i < sendBuffer; i++ {
		hub.Deliver(room, []byte("x"), "")
	}
	assert.Equal(t, 0, hub.Deliver(room, []byte("overflow"), ""))
	assert.False(t, hub.IsOnline(room, s.UserID))
}

func TestHub_ConcurrentRegisterAndDeliver(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := NewSession(hub, nil, room, uuid.New())
			hub.Register(s)
			hub.Unregister(s)
		}()
		go func() {
			defer wg.Done()
			hub.Deliver(room, []byte("ping"), "")
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.SessionCount(room))
}

func TestSession_EnqueueAfterClose(t *testing.T) {
	hub := NewHub(zap.NewNop())
	s := NewSession(hub, nil, uuid.New(), uuid.New())
	hub.Register(s)

	assert.True(t, s.enqueue([]byte("before")))
	hub.Unregister(s)
	assert.False(t, s.enqueue([]byte("after")))

	// the buffered frame is still drained, then the channel reports closed
	payload, ok := <-s.send
	assert.True(t, ok)
	assert.Equal(t, "before", string(payload))
	_, ok = <-s.send
	assert.False(t, ok)
}

func TestSession_ConcurrentEnqueueAndClose(t *testing.T) {
	hub := NewHub(zap.NewNop())
	s := NewSession(hub, nil, uuid.New(), uuid.New())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.enqueue([]byte("x"))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.close()
	}()

	assert.NotPanics(t, wg.Wait)
	assert.False(t, s.enqueue([]byte("late")))
}

func TestSession_ServeOverWebsocket(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := uuid.New()
	user := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := NewSession(hub, conn, room, user)
		s.Serve(func(s *Session, f InboundFrame) {
			s.SendFrame(Frame{Type: FrameMessage, Message: &entity.ChatMessage{RoomID: room, SenderID: user, Text: strings.ToUpper(f.Text)}})
		})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(InboundFrame{SenderID: user.String(), Text: "hello"}))

	var f Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "HELLO", f.Message.Text)
	assert.True(t, hub.IsOnline(room, user))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameError, f.Type)
}

func TestRedisBus_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewRedisBus(NewHub(zap.NewNop()), db, zap.NewNop())

	msg := &entity.ChatMessage{
		ID:       uuid.New(),
		RoomID:   uuid.New(),
		SenderID: uuid.New(),
		Text:     "hi",
		SentAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	payload, err := json.Marshal(busEnvelope{ExcludeSession: "s1", Message: msg})
	require.NoError(t, err)

	mock.ExpectPublish(RoomChannel(msg.RoomID), string(payload)).SetVal(2)

	require.NoError(t, bus.Publish(context.Background(), msg, "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBus_Dispatch(t *testing.T) {
	db, _ := redismock.NewClientMock()
	hub := NewHub(zap.NewNop())
	bus := NewRedisBus(hub, db, zap.NewNop())
	room := uuid.New()

	listener := NewSession(hub, nil, room, uuid.New())
	origin := NewSession(hub, nil, room, uuid.New())
	hub.Register(listener)
	hub.Register(origin)

	msg := &entity.ChatMessage{ID: uuid.New(), RoomID: room, Text: "from another instance"}
	payload, err := json.Marshal(busEnvelope{ExcludeSession: origin.ID, Message: msg})
	require.NoError(t, err)

	require.NoError(t, bus.dispatch(RoomChannel(room), string(payload)))
	assert.Equal(t, "from another instance", readFrame(t, listener).Message.Text)
	assert.Empty(t, origin.send)

	assert.Error(t, bus.dispatch(RoomChannel(uuid.New()), string(payload)), "room mismatch")
	assert.Error(t, bus.dispatch("chat:room:nope", string(payload)))
}
