package slackclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/retry"
)

// Metrics receives operational counters from the chat session
// (internal/metrics). A nil Metrics on Client disables recording.
type Metrics interface {
	RecordSlackEvent(eventType string)
	RecordReconnect()
	RecordError(module, errType string)
}

// Client is a single chat session: one RTM connection plus the caches,
// triage sets, and side-tables that live for the session's lifetime.
type Client struct {
	api     *apiCaller
	log     zerolog.Logger
	metrics Metrics

	cache *entityCache

	wsMu sync.Mutex
	ws   *websocket.Conn

	// inflight is held by every in-progress outbound send; the event pump
	// waits on it before dispatching an inbound frame, guaranteeing the
	// send's ts lands in sentBySelf before its own RTM echo can arrive
	// (spec §5, the "wsblock" discipline).
	inflight sync.WaitGroup

	sentMu     sync.Mutex
	sentBySelf map[string]time.Time

	reactMu       sync.Mutex
	autoreactions map[string][]models.AutoReaction
	annoy         map[string]int64

	lastTimestamp float64
	lastTsMu      sync.Mutex

	workspace models.Workspace

	events chan any

	backoff *retry.Backoff

	msgID atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// New constructs a Client from a config and a previously persisted status
// blob (zero value if this is a fresh session).
func New(cfg Config, status models.PersistedStatus, log zerolog.Logger) (*Client, error) {
	api, err := newAPICaller(cfg.Token, cfg.Cookie)
	if err != nil {
		return nil, err
	}
	c := &Client{
		api:           api,
		log:           log.With().Str("component", "slackclient").Logger(),
		cache:         newEntityCache(),
		sentBySelf:    make(map[string]time.Time),
		autoreactions: status.AutoReactions,
		annoy:         status.Annoy,
		lastTimestamp: status.LastTimestamp,
		events:        make(chan any, 256),
		backoff:       retry.NewBackoff(),
		closed:        make(chan struct{}),
	}
	if c.autoreactions == nil {
		c.autoreactions = make(map[string][]models.AutoReaction)
	}
	if c.annoy == nil {
		c.annoy = make(map[string]int64)
	}
	return c, nil
}

// SetMetrics wires a recorder into the client. Safe to call once before Run;
// nil disables recording (the default).
func (c *Client) SetMetrics(m Metrics) { c.metrics = m }

// Events returns the channel of decoded chat events. It is closed when Run
// returns, which happens only once Run's context is cancelled.
func (c *Client) Events() <-chan any { return c.events }

func (c *Client) emit(e any) {
	select {
	case c.events <- e:
	case <-c.closed:
	}
}

// Login performs rtm.connect and records the workspace identity.
func (c *Client) Login(ctx context.Context) (models.LoginInfo, error) {
	var payload struct {
		URL  string `json:"url"`
		Team struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Domain string `json:"domain"`
		} `json:"team"`
		Self struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"self"`
	}
	if err := c.api.call("main", "rtm.connect", nil, &payload); err != nil {
		return models.LoginInfo{}, fmt.Errorf("slackclient: login: %w", err)
	}

	c.workspace = models.Workspace{
		TeamID:     payload.Team.ID,
		TeamName:   payload.Team.Name,
		TeamDomain: payload.Team.Domain,
		SelfID:     payload.Self.ID,
		SelfName:   payload.Self.Name,
	}
	return models.LoginInfo{Workspace: c.workspace, WebsocketURL: payload.URL}, nil
}

// Workspace returns the identity recorded at Login.
func (c *Client) Workspace() models.Workspace { return c.workspace }

// Run dials the RTM websocket, replays history if needed, and pumps events
// until ctx is cancelled, reconnecting with backoff after every failure;
// it never gives up on its own. It blocks; callers
// should run it in its own goroutine and range over Events().
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)

	firstAttempt := true
	for {
		login, err := c.Login(ctx)
		if err != nil {
			c.log.Error().Err(err).Msg("rtm.connect failed")
			if c.metrics != nil {
				c.metrics.RecordError("slackclient", "rtm_connect")
			}
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, login.WebsocketURL, nil)
		if err != nil {
			c.log.Error().Err(err).Msg("rtm dial failed")
			if c.metrics != nil {
				c.metrics.RecordError("slackclient", "rtm_dial")
			}
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}

		c.wsMu.Lock()
		c.ws = conn
		c.wsMu.Unlock()
		c.backoff.Reset()
		c.log.Info().Str("team", login.TeamName).Msg("connected to slack rtm")

		if !firstAttempt && c.metrics != nil {
			c.metrics.RecordReconnect()
		}
		firstAttempt = false

		c.replayHistory()

		if err := c.pump(ctx, conn); err != nil {
			c.log.Warn().Err(err).Msg("rtm connection lost, reconnecting")
		}
		conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !c.sleepBackoff(ctx) {
			return
		}
	}
}

func (c *Client) sleepBackoff(ctx context.Context) bool {
	d := c.backoff.Next()
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// pump reads frames until the socket errors or ctx is cancelled.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) error {
	type frameOrErr struct {
		data []byte
		err  error
	}
	frames := make(chan frameOrErr, 32)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			frames <- frameOrErr{data, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			if f.err != nil {
				return f.err
			}
			c.inflight.Wait()
			c.handleFrame(f.data)
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var env struct {
		Type string `json:"type"`
		Ts   string `json:"ts"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Msg("malformed rtm frame")
		return
	}

	if uselessTypes[env.Type] {
		return
	}

	if env.Ts != "" && c.isSentBySelf(env.Ts) {
		var m wireMessage
		if json.Unmarshal(data, &m) == nil && m.Subtype == "" && m.Type == "message" {
			c.removeSentBySelf(env.Ts)
			return
		}
	}

	c.dispatchTypedEvent(env.Type, data)
}

// uselessTypes enumerates the RTM event types dropped unconditionally
// (spec §6).
var uselessTypes = map[string]bool{
	"hello": true, "goodbye": true, "accounts_changed": true,
	"user_interaction_changed": true, "clear_mention_notification": true,
	"update_global_thread_state": true, "update_thread_state": true,
	"thread_marked": true, "im_marked": true, "pref_change": true,
	"draft_create": true, "draft_delete": true, "channel_marked": true,
	"group_marked": true, "mpim_marked": true, "dnd_updated_user": true,
	"reaction_added": true, "file_deleted": true, "file_public": true,
	"file_created": true, "file_shared": true, "desktop_notification": true,
	"mobile_in_app_notification": true,
}

func (c *Client) addSentBySelf(ts string) {
	c.sentMu.Lock()
	defer c.sentMu.Unlock()
	c.sentBySelf[ts] = time.Now()
	c.sweepSentBySelfLocked()
}

func (c *Client) isSentBySelf(ts string) bool {
	c.sentMu.Lock()
	defer c.sentMu.Unlock()
	_, ok := c.sentBySelf[ts]
	return ok
}

func (c *Client) removeSentBySelf(ts string) {
	c.sentMu.Lock()
	defer c.sentMu.Unlock()
	delete(c.sentBySelf, ts)
}

// sweepSentBySelfLocked drops entries older than 10 seconds (spec §8): the
// RTM echo either arrived by then or never will.
func (c *Client) sweepSentBySelfLocked() {
	cutoff := time.Now().Add(-10 * time.Second)
	for ts, at := range c.sentBySelf {
		if at.Before(cutoff) {
			delete(c.sentBySelf, ts)
		}
	}
}

// Status returns the blob to persist at shutdown (spec §4.4).
func (c *Client) Status() models.PersistedStatus {
	c.lastTsMu.Lock()
	lastTS := c.lastTimestamp
	c.lastTsMu.Unlock()

	c.reactMu.Lock()
	defer c.reactMu.Unlock()
	return models.PersistedStatus{
		LastTimestamp: lastTS,
		AutoReactions: c.autoreactions,
		Annoy:         c.annoy,
	}
}

func (c *Client) advanceLastTimestamp(ts models.Timestamp) {
	f := ts.Float()
	c.lastTsMu.Lock()
	defer c.lastTsMu.Unlock()
	if f > c.lastTimestamp {
		c.lastTimestamp = f
	}
}

// Close tears down the socket; Run's goroutine returns shortly after.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wsMu.Lock()
		if c.ws != nil {
			c.ws.Close()
		}
		c.wsMu.Unlock()
	})
}

func (c *Client) nextID() uint64 { return c.msgID.Add(1) }

func (c *Client) writeJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("slackclient: not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
