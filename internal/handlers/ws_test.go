// internal/handlers/ws_test.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agus-marmor/typeclash/internal/auth"
	"github.com/agus-marmor/typeclash/internal/models"
)

func wsURL(ts *httptest.Server, token string) string {
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws?token=" + token
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(ts, token), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "test done") })
	return c
}

func sendEvent(t *testing.T, c *websocket.Conn, ev inEvent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

// readEvent reads frames until one of type want arrives, skipping interleaved
// broadcasts, and unmarshals its data into out.
func readEvent(t *testing.T, c *websocket.Conn, want string, out interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)

		var envelope struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &envelope))
		if envelope.Type != want {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(envelope.Data, out))
		}
		return
	}
}

func TestWSRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(ts, "not-a-token"), nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
	}
}

func TestWSLobbySubscribeAndChat(t *testing.T) {
	srv, ts := newTestServer(t)

	host := signup(t, ts, "host@example.com", "host")
	l, err := srv.Lobbies.Create(context.Background(), host.User.ID, host.User.Username, models.CharacterMech)
	require.NoError(t, err)

	c := dialWS(t, ts, host.Token)

	sendEvent(t, c, inEvent{Type: "lobby:subscribe", Code: l.Code})
	var snap models.LobbySnapshot
	readEvent(t, c, "lobby:update", &snap)
	assert.Equal(t, l.Code, snap.Code)
	require.Len(t, snap.Players, 1)

	sendEvent(t, c, inEvent{Type: "lobby:chat", Code: l.Code, Msg: "glhf"})
	var chat chatPayload
	readEvent(t, c, "lobby:chat", &chat)
	assert.Equal(t, "glhf", chat.Msg)
	assert.Equal(t, "host", chat.Username)
}

func TestWSSubscribeRequiresMembership(t *testing.T) {
	srv, ts := newTestServer(t)

	host := signup(t, ts, "host@example.com", "host")
	stranger := signup(t, ts, "other@example.com", "other")
	l, err := srv.Lobbies.Create(context.Background(), host.User.ID, host.User.Username, models.CharacterMech)
	require.NoError(t, err)

	c := dialWS(t, ts, stranger.Token)
	sendEvent(t, c, inEvent{Type: "lobby:subscribe", Code: l.Code})

	var e errorPayload
	readEvent(t, c, "error", &e)
	assert.Contains(t, e.Message, "join the lobby")
}

func newRawClient(id auth.Identity) *wsClient {
	return &wsClient{
		id:    id,
		out:   make(chan outEvent, outBufferSize),
		rooms: make(map[string]struct{}),
	}
}

func startPlayingMatch(t *testing.T, srv *Server, ts *httptest.Server) (string, authResponse, authResponse) {
	t.Helper()
	host := signup(t, ts, "host@example.com", "host")
	guest := signup(t, ts, "guest@example.com", "guest")

	ctx := context.Background()
	l, err := srv.Lobbies.Create(ctx, host.User.ID, host.User.Username, models.CharacterMech)
	require.NoError(t, err)
	_, err = srv.Lobbies.Join(ctx, l.Code, guest.User.ID, guest.User.Username)
	require.NoError(t, err)
	_, err = srv.Lobbies.SetReady(ctx, l.Code, host.User.ID, true)
	require.NoError(t, err)
	_, err = srv.Lobbies.SetReady(ctx, l.Code, guest.User.ID, true)
	require.NoError(t, err)
	_, err = srv.Lobbies.Start(ctx, l.Code, host.User.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, err := srv.Store.GetMatch(ctx, l.Code)
		return err == nil && cur.Status == models.MatchPlaying
	}, time.Second, time.Millisecond)
	return l.Code, host, guest
}

// Unsubscribing from a match room the client never joined must not count as
// draining it; only a real member's departure can empty the room and force
// the match to finalize.
func TestMatchUnsubscribeOnlyDrainsActualMembers(t *testing.T) {
	srv, ts := newTestServer(t)
	code, host, _ := startPlayingMatch(t, srv, ts)
	ctx := context.Background()
	co := srv.Coordinator

	// A connection that joined no rooms, from a user who is not even a
	// participant, unsubscribes while the room is still empty.
	drifter := newRawClient(auth.Identity{UserID: uuid.New(), Username: "drifter"})
	co.handleEvent(ctx, drifter, inEvent{Type: "match:unsubscribe", Code: code})

	m, err := srv.Store.GetMatch(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, models.MatchPlaying, m.Status)

	// A participant who never subscribed is just as inert.
	bystander := newRawClient(auth.Identity{UserID: host.User.ID, Username: host.User.Username})
	co.handleEvent(ctx, bystander, inEvent{Type: "match:unsubscribe", Code: code})

	m, err = srv.Store.GetMatch(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, models.MatchPlaying, m.Status)

	// The last real member leaving does drain the room and finalizes.
	member := newRawClient(auth.Identity{UserID: host.User.ID, Username: host.User.Username})
	co.handleEvent(ctx, member, inEvent{Type: "match:subscribe", Code: code})
	co.handleEvent(ctx, member, inEvent{Type: "match:unsubscribe", Code: code})

	m, err = srv.Store.GetMatch(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, models.MatchFinished, m.Status)
	assert.Equal(t, models.EndTimeout, m.EndReason)
}

func TestWSMatchProgressAndFinish(t *testing.T) {
	srv, ts := newTestServer(t)
	code, host, _ := startPlayingMatch(t, srv, ts)

	m, err := srv.Store.GetMatch(context.Background(), code)
	require.NoError(t, err)

	c := dialWS(t, ts, host.Token)
	sendEvent(t, c, inEvent{Type: "match:subscribe", Code: code})
	var snap models.MatchSnapshot
	readEvent(t, c, "match:update", &snap)
	assert.Equal(t, m.ID, snap.ID)

	sendEvent(t, c, inEvent{Type: "progress:update", Code: code, CharsTyped: 12, Errors: 1})
	var prog struct {
		UserID     string `json:"userId"`
		CharsTyped int    `json:"charsTyped"`
	}
	readEvent(t, c, "match:progress", &prog)
	assert.Equal(t, host.User.ID.String(), prog.UserID)
	assert.Equal(t, 12, prog.CharsTyped)

	sendEvent(t, c, inEvent{Type: "match:finish", Code: code, CharsTyped: 12, Errors: 1, WPM: 64, Accuracy: 92})
	var ack models.MatchPlayer
	readEvent(t, c, "match:finish:ack", &ack)
	assert.True(t, ack.Finished)
	assert.Equal(t, 64, ack.WPM)
}
