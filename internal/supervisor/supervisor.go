// Package supervisor runs the bridge's per-session lifecycle: accept one
// IRC client, stand up a chat session for it, run the three cooperative
// tasks (spec §4.7/§5), and restart on disconnect.
package supervisor

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/localslackirc/bridge/internal/config"
	"github.com/localslackirc/bridge/internal/controlsocket"
	"github.com/localslackirc/bridge/internal/ircserver"
	"github.com/localslackirc/bridge/internal/slackclient"
)

// relayLog is the subset of internal/store.Store the supervisor needs to
// wire into each session's IRC server.
type relayLog interface {
	SaveRelayedMessage(direction, channelID, userID, text string) error
}

// metricsSink is the subset of internal/metrics.Metrics the supervisor
// wires into each session's chat client and IRC server.
type metricsSink interface {
	RecordSlackEvent(eventType string)
	RecordIRCCommand(command, outcome string)
	RecordRelay(direction string)
	RecordError(module, errType string)
	RecordReconnect()
	SetIRCConnected(connected bool)
}

// Supervisor wires the chat client, IRC server, and control socket together
// for one process lifetime, restarting the session loop on disconnect.
type Supervisor struct {
	cfg     *config.Config
	log     zerolog.Logger
	events  *SessionLog
	relay   relayLog
	metrics metricsSink
}

// New constructs a Supervisor from loaded configuration.
func New(cfg *config.Config, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		log:    log.With().Str("component", "supervisor").Logger(),
		events: NewSessionLog(log),
	}
}

// SessionLog returns the in-memory session-lifecycle log (start/stop/restart
// events), exposed so a diagnostic endpoint can display it.
func (s *Supervisor) SessionLog() *SessionLog { return s.events }

// SetRelayLog wires the audit log into every session's IRC server. Nil
// disables logging (the default, used when the bridge runs without
// cfg.AuditDBPath set).
func (s *Supervisor) SetRelayLog(r relayLog) { s.relay = r }

// SetMetrics wires a recorder into every session's chat client and IRC
// server. Nil disables recording (the default).
func (s *Supervisor) SetMetrics(m metricsSink) { s.metrics = m }

// Run registers signal handlers and repeats the accept-one-session loop
// until a terminating signal arrives (spec §4.7).
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		s.log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	ln, err := ircserver.Listen(s.cfg.IP, s.cfg.Port, s.cfg.Override)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.runOneSession(ctx, ln); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Msg("session ended, restarting listener")
			ln, err = ircserver.Listen(s.cfg.IP, s.cfg.Port, s.cfg.Override)
			if err != nil {
				return err
			}
		}
	}
}

// runOneSession accepts one IRC connection, builds a fresh chat client for
// it (spec §4.7: "recreated per session"), and runs the three cooperative
// tasks until one of them signals a disconnect.
func (s *Supervisor) runOneSession(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	token, err := s.cfg.ReadTokenFile()
	if err != nil {
		return err
	}
	cookie, err := s.cfg.ReadCookieFile()
	if err != nil {
		return err
	}

	status, err := slackclient.LoadStatus(s.cfg.StatusFile)
	if err != nil {
		s.log.Warn().Err(err).Msg("could not load persisted status, starting fresh")
	}

	chat, err := slackclient.New(slackclient.Config{Token: token, Cookie: cookie}, status, s.log)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		chat.SetMetrics(s.metrics)
	}

	if _, err := chat.Login(ctx); err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go chat.Run(sessionCtx)

	irc := ircserver.New(ircserver.Config{
		Autojoin:           s.cfg.Autojoin,
		NoUserList:         s.cfg.NoUserList,
		NoRejoinOnMention:  s.cfg.NoRejoinOnMention,
		IgnoredChannels:    s.cfg.IgnoredChannelSet(),
		SilencedYellers:    s.cfg.SilencedYellerSet(),
		DownloadsDirectory: s.cfg.DownloadsDirectory,
		FormattedMaxLines:  s.cfg.FormattedMaxLines,
	}, chat, s.log)
	if s.relay != nil {
		irc.SetRelayLog(s.relay)
	}
	if s.metrics != nil {
		irc.SetMetrics(s.metrics)
	}

	s.events.Record(Event{Kind: "session_start"})

	errCh := make(chan error, 2)
	go func() { errCh <- irc.Serve(sessionCtx, conn) }()

	if s.cfg.ControlSocket != "" {
		cs := controlsocket.New(s.cfg.ControlSocket, chat, irc, s.log)
		go func() { errCh <- cs.Serve(sessionCtx) }()
	}

	err = <-errCh
	cancel()

	if saveErr := slackclient.SaveStatus(s.cfg.StatusFile, chat.Status()); saveErr != nil {
		s.log.Warn().Err(saveErr).Msg("failed to persist status")
	}
	s.events.Record(Event{Kind: "session_end", Detail: errString(err)})

	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
