// Package ircserver implements the single-client IRC front end (spec §4.5):
// registration, command dispatch, outgoing event rendering, and thread
// synthesis, talking to a chat client through a narrow interface so neither
// side holds a back-reference to the other's concrete type (spec §9).
package ircserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/slackclient"
)

// ChatClient is the subset of the chat session the IRC server needs. It is
// satisfied by *internal/slackclient.Client.
type ChatClient interface {
	Events() <-chan any
	Workspace() models.Workspace

	GetUser(id string) (models.User, error)
	UserByHandle(handle string) (models.User, bool)
	ListUsers() []models.User
	GetChannel(id string) (models.Channel, error)
	GetIM(id string) (models.IM, error)
	OpenIM(userID string) (models.IM, error)
	Channels() []models.Channel
	JoinedChannels() []models.Channel
	GetMembers(channelID string) []string
	GetThread(channelID string, threadTS models.Timestamp) (models.MessageThread, error)

	SendMessage(channel, text string, action bool, threadTS models.Timestamp, reSendToIRC bool) (models.Timestamp, error)
	SendFile(channel string, body io.Reader, filename string, threadTS models.Timestamp) error
	SetTopic(channel, topic string) error
	Join(channel string) error
	Kick(channel, userID string) error
	Invite(channel, userID string) error
	SetPresence(away bool) error
	Annoy(userID string, expiration int64)
}

// RelayLog records relayed messages for audit purposes (internal/store). A
// nil RelayLog on Server disables logging; SetRelayLog wires one in after
// construction so existing callers and tests are unaffected.
type RelayLog interface {
	SaveRelayedMessage(direction, channelID, userID, text string) error
}

// Metrics records operational counters for the bridge (internal/metrics). A
// nil Metrics on Server disables recording, matching RelayLog.
type Metrics interface {
	RecordIRCCommand(command, outcome string)
	RecordRelay(direction string)
	RecordError(module, errType string)
	SetIRCConnected(connected bool)
}

// Config holds the settings the IRC server needs from internal/config.
type Config struct {
	Autojoin           bool
	NoUserList         bool
	NoRejoinOnMention  bool
	IgnoredChannels    map[string]bool
	SilencedYellers    map[string]bool
	DownloadsDirectory string
	FormattedMaxLines  int
}

// disconnected is returned by Serve to signal a bridge-disconnect (spec
// §4.7): QUIT, a fatal socket error, or the chat client giving up.
type disconnected struct{ reason string }

func (d *disconnected) Error() string { return "ircserver: disconnected: " + d.reason }

// Server drives a single registered IRC client for the lifetime of one TCP
// connection.
type Server struct {
	cfg  Config
	chat ChatClient
	log  zerolog.Logger

	connMu sync.Mutex
	conn   net.Conn

	workspaceHost string

	regMu      sync.Mutex
	registered bool
	gotNick    bool
	gotUser    bool
	nick       string
	username   string
	realname   string

	held *heldQueue

	partedMu sync.Mutex
	parted   map[string]bool // lowercased channel/thread names the user has PARTed

	threadsMu sync.Mutex
	threads   map[string]models.MessageThread // synthetic name -> thread

	mentionReMu sync.Mutex
	mentionRe   map[string]mentionCacheEntry // channel id -> compiled member-mention regexp

	relayLog RelayLog
	metrics  Metrics
}

// SetRelayLog wires an audit log into the server. Safe to call once before
// Serve; nil disables logging (the default).
func (s *Server) SetRelayLog(r RelayLog) {
	s.relayLog = r
}

// SetMetrics wires a recorder into the server. Safe to call once before
// Serve; nil disables recording (the default).
func (s *Server) SetMetrics(m Metrics) {
	s.metrics = m
}

func (s *Server) logRelayed(direction, channelID, userID, text string) {
	if s.metrics != nil {
		s.metrics.RecordRelay(direction)
	}
	if s.relayLog == nil {
		return
	}
	if err := s.relayLog.SaveRelayedMessage(direction, channelID, userID, text); err != nil {
		s.log.Warn().Err(err).Msg("relay log write failed")
		if s.metrics != nil {
			s.metrics.RecordError("ircserver", "relay_log_write")
		}
	}
}

func (s *Server) recordCommand(command, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordIRCCommand(command, outcome)
	}
}

// New constructs a Server bound to chat. The server does not dial the
// network itself; callers pass an accepted net.Conn to Serve.
func New(cfg Config, chat ChatClient, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		chat:      chat,
		log:       log.With().Str("component", "ircserver").Logger(),
		held:      newHeldQueue(256),
		parted:    make(map[string]bool),
		threads:   make(map[string]models.MessageThread),
		mentionRe: make(map[string]mentionCacheEntry),
	}
}

// Listen binds addr:port, refusing non-loopback binds unless override is
// set (spec §4.5 Accept).
func Listen(addr string, port int, override bool) (net.Listener, error) {
	if !override && !isLoopback(addr) {
		return nil, fmt.Errorf("ircserver: refusing non-loopback bind %s without override", addr)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, err
	}
	return &onceListener{Listener: ln}, nil
}

func isLoopback(addr string) bool {
	if addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// onceListener closes the underlying listener after handing out its one
// accepted connection (spec §4.5: backlog 1, single-client).
type onceListener struct {
	net.Listener
	once sync.Once
}

func (o *onceListener) Accept() (net.Conn, error) {
	conn, err := o.Listener.Accept()
	o.once.Do(func() { o.Listener.Close() })
	return conn, err
}

// Serve runs the registration gate, the command reader, and the chat event
// pump concurrently until the connection closes, QUIT is received, or ctx
// is cancelled. It returns a *disconnected error in the ordinary case.
func (s *Server) Serve(ctx context.Context, conn net.Conn) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.workspaceHost = s.chat.Workspace().TeamDomain

	if s.metrics != nil {
		s.metrics.SetIRCConnected(true)
		defer s.metrics.SetIRCConnected(false)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() { errCh <- s.readLoop(ctx, conn) }()
	go func() { errCh <- s.pumpChatEvents(ctx) }()

	err := <-errCh
	cancel()
	conn.Close()
	return err
}

// readLoop scans CRLF-terminated lines from the client and dispatches them.
func (s *Server) readLoop(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 65536)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if err := s.dispatchLine(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return &disconnected{reason: "client closed connection"}
}

// pumpChatEvents ranges over the chat client's event channel, holding
// events that arrive before registration completes and rendering the rest.
func (s *Server) pumpChatEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.chat.Events():
			if !ok {
				return &disconnected{reason: "chat session ended"}
			}
			if _, isDisc := ev.(slackclient.Disconnected); isDisc {
				return &disconnected{reason: "chat client gave up reconnecting"}
			}
			if !s.isRegistered() {
				s.held.push(ev)
				continue
			}
			s.renderChatEvent(ev)
		}
	}
}

func (s *Server) isRegistered() bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.registered
}

// parseLine splits an IRC line into command, args, and an optional trailing
// free-form argument (a token beginning with ':').
func parseLine(line string) (cmd string, args []string, trailing string) {
	if strings.HasPrefix(line, ":") {
		if idx := strings.Index(line, " "); idx >= 0 {
			line = line[idx+1:]
		} else {
			return "", nil, ""
		}
	}
	if idx := strings.Index(line, " :"); idx >= 0 {
		trailing = line[idx+2:]
		line = line[:idx]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, trailing
	}
	return strings.ToUpper(fields[0]), fields[1:], trailing
}
