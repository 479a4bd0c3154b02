// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/agus-marmor/typeclash/internal/auth"
	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/lobby"
	"github.com/agus-marmor/typeclash/internal/match"
	"github.com/agus-marmor/typeclash/internal/middleware"
	"github.com/agus-marmor/typeclash/internal/models"
	"github.com/agus-marmor/typeclash/internal/store"
)

const (
	wsSubprotocol = "typeclash"

	// progressThrottle drops progress reports arriving faster than this per
	// connection. Dropped reports are not errors; the next one carries the
	// cumulative counters anyway.
	progressThrottle = 80 * time.Millisecond

	outBufferSize = 32
	writeTimeout  = 5 * time.Second
	pingInterval  = 30 * time.Second
)

// outEvent is the envelope for every server -> client message.
type outEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// inEvent is the envelope for every client -> server message. Fields beyond
// Type and Code are only meaningful for some event types.
type inEvent struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Msg        string `json:"msg,omitempty"`
	CharsTyped int    `json:"charsTyped"`
	Errors     int    `json:"errors"`
	WPM        int    `json:"wpm"`
	Accuracy   int    `json:"accuracy"`
}

// chatPayload is broadcast for lobby:chat.
type chatPayload struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Msg      string    `json:"msg"`
	SentAt   time.Time `json:"sentAt"`
}

type errorPayload struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

// wsClient is one authenticated websocket connection.
type wsClient struct {
	id  auth.Identity
	out chan outEvent

	mu           sync.Mutex
	rooms        map[string]struct{}
	lastProgress time.Time
}

// send queues an event without blocking. A client too slow to drain its
// buffer loses events rather than stalling a broadcast; the next full
// snapshot resynchronizes it.
func (c *wsClient) send(ev outEvent) {
	select {
	case c.out <- ev:
	default:
	}
}

func (c *wsClient) sendError(err error) {
	e := errs.Convert(err)
	c.send(outEvent{Type: "error", Data: errorPayload{Kind: e.Kind, Message: e.Message}})
}

// throttled reports whether a progress event should be dropped, and stamps
// the clock when it is allowed through.
func (c *wsClient) throttled(now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastProgress) < window {
		return true
	}
	c.lastProgress = now
	return false
}

// Coordinator owns every live websocket and the room subscriptions behind
// lobby and match broadcasts. It implements lobby.Broadcaster and
// match.Broadcaster.
type Coordinator struct {
	auth     *auth.Service
	store    store.Store
	log      *logrus.Logger
	throttle time.Duration
	now      func() time.Time

	// Set via Attach after the services are built; the services need the
	// coordinator as their broadcaster, so construction is two-phase.
	lobbies *lobby.Service
	engine  *match.Engine

	mu    sync.Mutex
	rooms map[string]map[*wsClient]struct{}
}

// NewCoordinator builds the coordinator. Call Attach before serving.
func NewCoordinator(authSvc *auth.Service, st store.Store, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		auth:     authSvc,
		store:    st,
		log:      log,
		throttle: progressThrottle,
		now:      time.Now,
		rooms:    make(map[string]map[*wsClient]struct{}),
	}
}

// Attach wires the services the coordinator dispatches into.
func (co *Coordinator) Attach(lobbies *lobby.Service, engine *match.Engine) {
	co.lobbies = lobbies
	co.engine = engine
}

func lobbyRoom(code string) string { return "lobby:" + strings.ToUpper(strings.TrimSpace(code)) }
func matchRoom(code string) string { return "match:" + strings.ToUpper(strings.TrimSpace(code)) }

// ToLobby implements lobby.Broadcaster.
func (co *Coordinator) ToLobby(code, event string, payload interface{}) {
	co.broadcast(lobbyRoom(code), event, payload)
}

// ToMatch implements match.Broadcaster.
func (co *Coordinator) ToMatch(code, event string, payload interface{}) {
	co.broadcast(matchRoom(code), event, payload)
}

func (co *Coordinator) broadcast(room, event string, payload interface{}) {
	co.mu.Lock()
	members := make([]*wsClient, 0, len(co.rooms[room]))
	for c := range co.rooms[room] {
		members = append(members, c)
	}
	co.mu.Unlock()

	ev := outEvent{Type: event, Data: payload}
	for _, c := range members {
		c.send(ev)
	}
}

func (co *Coordinator) joinRoom(c *wsClient, room string) {
	co.mu.Lock()
	if co.rooms[room] == nil {
		co.rooms[room] = make(map[*wsClient]struct{})
	}
	co.rooms[room][c] = struct{}{}
	co.mu.Unlock()

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

// leaveRoom removes c from room, reporting whether c was actually a member
// and how many subscribers remain. Room-draining side effects must only fire
// for a real member's departure; an empty count for a room the client never
// joined means nothing.
func (co *Coordinator) leaveRoom(c *wsClient, room string) (wasMember bool, remaining int) {
	co.mu.Lock()
	if _, ok := co.rooms[room][c]; ok {
		wasMember = true
		delete(co.rooms[room], c)
		if len(co.rooms[room]) == 0 {
			delete(co.rooms, room)
		}
	}
	remaining = len(co.rooms[room])
	co.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	return wasMember, remaining
}

// Handler upgrades the connection and runs the read loop until the client
// goes away.
func (co *Coordinator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		id, err := co.auth.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{wsSubprotocol},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			co.log.WithError(err).Warn("ws: accept failed")
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != wsSubprotocol {
			c.Close(CloseBadSubprotocol, "client must speak the typeclash subprotocol")
			return
		}

		middleware.LogWebSocketConnect(co.log, r.RemoteAddr, id.UserID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		client := &wsClient{
			id:    id,
			out:   make(chan outEvent, outBufferSize),
			rooms: make(map[string]struct{}),
		}

		go co.writePump(ctx, c, client)
		readErr := co.readPump(ctx, c, client)

		cancel()
		co.disconnect(client)
		middleware.LogWebSocketDisconnect(co.log, r.RemoteAddr, id.UserID, readErr)
	}
}

// readPump consumes client events until the connection drops.
func (co *Coordinator) readPump(ctx context.Context, c *websocket.Conn, client *wsClient) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var ev inEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			client.sendError(errs.New(errs.KindValidation, "invalid json"))
			continue
		}
		co.handleEvent(ctx, client, ev)
	}
}

func (co *Coordinator) writePump(ctx context.Context, c *websocket.Conn, client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-client.out:
			data, err := json.Marshal(ev)
			if err != nil {
				co.log.WithError(err).Warn("ws: marshal failed")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (co *Coordinator) handleEvent(ctx context.Context, client *wsClient, ev inEvent) {
	switch ev.Type {
	case "lobby:subscribe":
		l, err := co.lobbies.Get(ctx, ev.Code)
		if err != nil {
			client.sendError(err)
			return
		}
		if l.Player(client.id.UserID) == nil {
			client.sendError(errs.New(errs.KindNotMember, "join the lobby before subscribing"))
			return
		}
		co.joinRoom(client, lobbyRoom(ev.Code))
		client.send(outEvent{Type: lobby.EventUpdate, Data: models.NewLobbySnapshot(l)})

	case "lobby:unsubscribe":
		co.leaveRoom(client, lobbyRoom(ev.Code))

	case "lobby:heartbeat":
		if err := co.lobbies.Heartbeat(ctx, ev.Code, client.id.UserID); err != nil {
			client.sendError(err)
		}

	case "lobby:chat":
		msg := strings.TrimSpace(ev.Msg)
		if msg == "" {
			return
		}
		if len(msg) > 500 {
			msg = msg[:500]
		}
		if !co.inRoom(client, lobbyRoom(ev.Code)) {
			client.sendError(errs.New(errs.KindNotMember, "subscribe to the lobby before chatting"))
			return
		}
		co.ToLobby(ev.Code, lobby.EventChat, chatPayload{
			UserID:   client.id.UserID.String(),
			Username: client.id.Username,
			Msg:      msg,
			SentAt:   co.now().UTC(),
		})

	case "match:subscribe":
		m, err := co.store.GetMatch(ctx, ev.Code)
		if err != nil {
			client.sendError(err)
			return
		}
		if m.Player(client.id.UserID) == nil {
			client.sendError(errs.New(errs.KindForbidden, "not a participant of this match"))
			return
		}
		co.joinRoom(client, matchRoom(ev.Code))
		client.send(outEvent{Type: match.EventUpdate, Data: models.NewMatchSnapshot(m)})

	case "match:unsubscribe":
		wasMember, remaining := co.leaveRoom(client, matchRoom(ev.Code))
		if wasMember && remaining == 0 {
			co.engine.HandleEmptyRoom(ctx, ev.Code)
		}

	case "progress:update":
		if client.throttled(co.now(), co.throttle) {
			return
		}
		err := co.engine.ReportProgress(ctx, ev.Code, client.id.UserID, match.ProgressUpdate{
			CharsTyped: ev.CharsTyped,
			Errors:     ev.Errors,
		})
		if err != nil {
			client.sendError(err)
		}

	case "match:finish":
		p, err := co.engine.RequestFinish(ctx, ev.Code, client.id.UserID, match.ProgressUpdate{
			CharsTyped:      ev.CharsTyped,
			Errors:          ev.Errors,
			ClaimedWPM:      ev.WPM,
			ClaimedAccuracy: ev.Accuracy,
		})
		if err != nil {
			client.sendError(err)
			return
		}
		client.send(outEvent{Type: "match:finish:ack", Data: p})

	default:
		client.sendError(errs.Newf(errs.KindValidation, "unknown event type %q", ev.Type))
	}
}

func (co *Coordinator) inRoom(client *wsClient, room string) bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	_, ok := client.rooms[room]
	return ok
}

// disconnect tears a client out of every room. Leaving a lobby room means
// actually leaving the lobby (the other player sees the roster shrink); a
// drained match room finalizes the match so it cannot idle until the
// watchdog.
func (co *Coordinator) disconnect(client *wsClient) {
	client.mu.Lock()
	rooms := make([]string, 0, len(client.rooms))
	for room := range client.rooms {
		rooms = append(rooms, room)
	}
	client.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	for _, room := range rooms {
		wasMember, remaining := co.leaveRoom(client, room)
		switch {
		case strings.HasPrefix(room, "lobby:"):
			code := strings.TrimPrefix(room, "lobby:")
			if _, err := co.lobbies.Leave(ctx, code, client.id.UserID); err != nil && !errs.IsKind(err, errs.KindNotMember) && !errs.IsKind(err, errs.KindNotFound) {
				co.log.WithError(err).WithField("code", code).Warn("ws: leave on disconnect failed")
			}
		case strings.HasPrefix(room, "match:") && wasMember && remaining == 0:
			co.engine.HandleEmptyRoom(ctx, strings.TrimPrefix(room, "match:"))
		}
	}
}
