package ircserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/localslackirc/bridge/internal/models"
)

// commandHandler is the uniform shape every command dispatches through
// (spec §9 re-architecting note): parsed args, the trailing free-form
// argument, and nothing else.
type commandHandler func(s *Server, args []string, trailing string) error

// preRegCommands lists what a not-yet-registered client may send (spec
// §4.5 Registration gate).
var preRegCommands = map[string]bool{"NICK": true, "USER": true, "PING": true, "QUIT": true, "CAP": true}

var commandHandlers = map[string]commandHandler{
	"NICK":     (*Server).cmdNick,
	"USER":     (*Server).cmdUser,
	"PING":     (*Server).cmdPing,
	"CAP":      (*Server).cmdCap,
	"JOIN":     (*Server).cmdJoin,
	"PART":     (*Server).cmdPart,
	"PRIVMSG":  (*Server).cmdPrivmsg,
	"LIST":     (*Server).cmdList,
	"WHO":      (*Server).cmdWho,
	"WHOIS":    (*Server).cmdWhois,
	"MODE":     (*Server).cmdMode,
	"TOPIC":    (*Server).cmdTopic,
	"KICK":     (*Server).cmdKick,
	"INVITE":   (*Server).cmdInvite,
	"AWAY":     (*Server).cmdAway,
	"SENDFILE": (*Server).cmdSendfile,
	"ANNOY":    (*Server).cmdAnnoy,
	"USERHOST": (*Server).cmdUserhost,
	"QUIT":     (*Server).cmdQuit,
}

func (s *Server) dispatchLine(line string) error {
	cmd, args, trailing := parseLine(line)
	if cmd == "" {
		return nil
	}
	if !s.isRegistered() && !preRegCommands[cmd] {
		s.recordCommand(cmd, "unregistered")
		return nil
	}
	handler, ok := commandHandlers[cmd]
	if !ok {
		if s.isRegistered() {
			s.writeNumeric(errUnknownCommand, cmd, "Unknown command")
		}
		s.recordCommand(cmd, "unknown")
		return nil
	}
	err := handler(s, args, trailing)
	switch {
	case err == nil:
		s.recordCommand(cmd, "ok")
	default:
		if _, ok := err.(*disconnected); ok {
			s.recordCommand(cmd, "disconnect")
		} else {
			s.recordCommand(cmd, "error")
		}
	}
	return err
}

func (s *Server) cmdCap(args []string, trailing string) error { return nil }

func (s *Server) cmdNick(args []string, trailing string) error {
	nick := trailing
	if len(args) > 0 {
		nick = args[0]
	}
	if nick == "" {
		return nil
	}
	if s.isRegistered() {
		if nick != s.nick {
			s.writeNumeric(errErroneusNickname, nick, "Nickname is reserved")
		}
		return nil
	}
	s.regMu.Lock()
	s.nick = nick
	s.gotNick = true
	ready := s.gotNick && s.gotUser
	s.regMu.Unlock()
	if ready {
		s.completeRegistration()
	}
	return nil
}

func (s *Server) cmdUser(args []string, trailing string) error {
	if len(args) == 0 {
		return nil
	}
	s.regMu.Lock()
	s.username = args[0]
	s.realname = trailing
	s.gotUser = true
	ready := s.gotNick && s.gotUser
	s.regMu.Unlock()
	if ready {
		s.completeRegistration()
	}
	return nil
}

// completeRegistration runs the steps of spec §4.5 Registration gate 1-4.
func (s *Server) completeRegistration() {
	ws := s.chat.Workspace()
	if ws.SelfName != "" && s.nick != ws.SelfName {
		oldMask := s.nick
		s.nick = ws.SelfName
		s.writeFrom(oldMask+"!"+oldMask+"@127.0.0.1", "NICK", s.nick)
		s.writeNumeric(errErroneusNickname, oldMask, "Nickname forced to match the workspace identity")
	}

	s.writeNumeric(rplWelcome, "", fmt.Sprintf("Welcome to localslackirc, %s", s.nick))
	s.writeNumeric(rplYourHost, "", "Your host is "+s.serverName())
	s.writeNumeric(rplLuserClient, "", "There is 1 user on 1 server")
	s.writeLine(fmt.Sprintf(":%s NOTICE %s :localslackirc bridging %s", s.serverName(), s.nick, ws.TeamName))

	if s.cfg.Autojoin {
		if !s.cfg.NoUserList {
			s.chat.ListUsers()
		}
		s.autojoinChannels()
	}

	s.regMu.Lock()
	s.registered = true
	s.regMu.Unlock()

	for _, ev := range s.held.drain() {
		s.renderChatEvent(ev)
	}
}

const mpimInactivityWindow = 50 * 24 * time.Hour

func (s *Server) autojoinChannels() {
	for _, ch := range s.chat.JoinedChannels() {
		if s.cfg.IgnoredChannels[ch.Name] {
			continue
		}
		if ch.Flags.IsMPIM {
			age := time.Since(time.Unix(int64(ch.LatestTS.Float()), 0))
			if age > mpimInactivityWindow {
				continue
			}
		}
		s.joinChannelToIRC(ch)
	}
}

func (s *Server) cmdPing(args []string, trailing string) error {
	tok := trailing
	if len(args) > 0 {
		tok = args[0]
	}
	s.writeLine("PONG " + s.serverName() + " :" + tok)
	return nil
}

func (s *Server) cmdQuit(args []string, trailing string) error {
	return &disconnected{reason: "client sent QUIT"}
}

// resolveTarget maps an IRC destination name to a Slack channel id and,
// for synthetic thread channels, the thread's root timestamp.
func (s *Server) resolveTarget(name string) (channelID string, threadTS models.Timestamp, ok bool) {
	trimmed := strings.TrimPrefix(name, "#")
	if strings.HasPrefix(trimmed, "t-") {
		parent, ts, valid := models.ParseSyntheticName(trimmed)
		if !valid {
			return "", "", false
		}
		for _, ch := range s.chat.Channels() {
			if ch.Name == parent {
				return ch.ID, ts, true
			}
		}
		return "", "", false
	}
	if strings.HasPrefix(name, "#") {
		for _, ch := range s.chat.Channels() {
			if ch.Name == trimmed {
				return ch.ID, "", true
			}
		}
		return "", "", false
	}
	// A bare name is a nick: resolve to that user's direct-message channel.
	u, ok := s.chat.UserByHandle(name)
	if !ok {
		return "", "", false
	}
	im, err := s.chat.OpenIM(u.ID)
	if err != nil {
		return "", "", false
	}
	return im.ID, "", true
}

// ResolveDestination exposes resolveTarget's channel lookup to the control
// socket, which only ever names a destination, never a thread.
func (s *Server) ResolveDestination(name string) (channelID string, ok bool) {
	channelID, _, ok = s.resolveTarget(name)
	return channelID, ok
}

func (s *Server) cmdJoin(args []string, trailing string) error {
	if len(args) == 0 {
		return nil
	}
	for _, name := range strings.Split(args[0], ",") {
		s.partedMu.Lock()
		delete(s.parted, strings.ToLower(name))
		s.partedMu.Unlock()
		chanID, _, ok := s.resolveTarget(name)
		if !ok {
			s.writeNumeric(errNoSuchChannel, name, "No such channel")
			continue
		}
		ch, err := s.chat.GetChannel(chanID)
		if err != nil {
			s.writeNumeric(errNoSuchChannel, name, "No such channel")
			continue
		}
		if !ch.Flags.IsMember {
			if err := s.chat.Join(chanID); err != nil {
				continue
			}
		}
		s.joinChannelToIRC(ch)
	}
	return nil
}

func (s *Server) cmdPart(args []string, trailing string) error {
	if len(args) == 0 {
		return nil
	}
	for _, name := range strings.Split(args[0], ",") {
		s.part(name)
		s.forgetThread(strings.ToLower(name))
	}
	return nil
}

func (s *Server) cmdPrivmsg(args []string, trailing string) error {
	var target, text string
	switch {
	case len(args) >= 2:
		target, text = args[0], args[1]
	case len(args) == 1:
		target, text = args[0], trailing
	default:
		return nil
	}
	if target == "" || text == "" {
		return nil
	}

	action := false
	if strings.HasPrefix(text, "\x01ACTION ") && strings.HasSuffix(text, "\x01") {
		action = true
		text = strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
	}

	channelID, threadTS, ok := s.resolveTarget(target)
	if !ok {
		s.writeNumeric(errNoSuchNick, target, "No such nick/channel")
		return nil
	}
	destForMentions := ""
	if strings.HasPrefix(target, "#") {
		destForMentions = channelID
	}
	wire := s.outboundMagic(text, destForMentions)
	if _, err := s.chat.SendMessage(channelID, wire, action, threadTS, false); err != nil {
		s.log.Warn().Err(err).Str("target", target).Msg("send failed")
		return nil
	}
	s.logRelayed("outbound", channelID, s.chat.Workspace().SelfID, text)
	return nil
}

func (s *Server) cmdList(args []string, trailing string) error {
	for _, ch := range s.chat.Channels() {
		s.writeNumeric(rplList, "#"+ch.Name+" "+strconv.Itoa(ch.MemberCount), s.renderInbound(ch.RealTopic(), "", "#"+ch.Name))
	}
	s.writeNumeric(rplListEnd, "", "End of /LIST")
	return nil
}

func (s *Server) cmdWho(args []string, trailing string) error {
	if len(args) == 0 {
		return nil
	}
	target := args[0]
	if strings.HasPrefix(target, "#") {
		channelID, _, ok := s.resolveTarget(target)
		if !ok {
			s.writeNumeric(errNoSuchChannel, target, "No such channel")
			return nil
		}
		for _, id := range s.chat.GetMembers(channelID) {
			u, err := s.chat.GetUser(id)
			if err != nil {
				continue
			}
			s.writeNumeric(rplWhoReply, fmt.Sprintf("%s %s %s %s H", target, u.Handle, s.serverName(), s.serverName()), "0 "+u.Profile.RealName)
		}
		s.writeNumeric(rplEndOfWho, target, "End of /WHO list")
		return nil
	}
	u, ok := s.chat.UserByHandle(target)
	if !ok {
		s.writeNumeric(errNoSuchNick, target, "No such nick")
		return nil
	}
	s.writeNumeric(rplWhoReply, fmt.Sprintf("* %s %s %s H", u.Handle, s.serverName(), s.serverName()), "0 "+u.Profile.RealName)
	s.writeNumeric(rplEndOfWho, target, "End of /WHO list")
	return nil
}

func (s *Server) cmdWhois(args []string, trailing string) error {
	if len(args) == 0 || strings.ContainsAny(args[0], "*?") {
		return nil
	}
	nick := args[0]
	u, ok := s.chat.UserByHandle(nick)
	if !ok {
		s.writeNumeric(errNoSuchNick, nick, "No such nick")
		return nil
	}
	s.writeNumeric(rplWhoisUser, nick+" "+u.ID+" "+s.serverName()+" *", u.Profile.RealName)
	s.writeNumeric(rplWhoisServer, nick+" "+s.serverName(), "localslackirc bridge")
	if u.IsAdmin {
		s.writeNumeric(rplWhoisOperator, nick, "is a workspace administrator")
	}
	s.writeNumeric(rplEndOfWhois, nick, "End of /WHOIS list")
	return nil
}

func (s *Server) cmdMode(args []string, trailing string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) == 1 {
		s.writeNumeric(rplChannelModeIs, args[0]+" +", "")
		return nil
	}
	if args[1] == "+b" || args[1] == "b" {
		s.writeNumeric(rplEndOfNames, args[0], "End of channel ban list")
		return nil
	}
	s.writeNumeric(errUModeUnknownFlag, args[0], "Unknown MODE flag")
	return nil
}

func (s *Server) cmdTopic(args []string, trailing string) error {
	if len(args) == 0 {
		return nil
	}
	channelID, _, ok := s.resolveTarget(args[0])
	if !ok {
		s.writeNumeric(errNoSuchChannel, args[0], "No such channel")
		return nil
	}
	if trailing == "" && len(args) < 2 {
		ch, err := s.chat.GetChannel(channelID)
		if err != nil {
			return nil
		}
		s.writeNumeric(rplTopic, args[0], ch.RealTopic())
		return nil
	}
	topic := trailing
	if topic == "" && len(args) > 1 {
		topic = args[1]
	}
	if err := s.chat.SetTopic(channelID, topic); err != nil {
		return nil
	}
	s.writeNumeric(rplTopic, args[0], topic)
	return nil
}

func (s *Server) cmdKick(args []string, trailing string) error {
	if len(args) < 2 {
		return nil
	}
	channelID, _, ok := s.resolveTarget(args[0])
	if !ok {
		return nil
	}
	u, ok := s.chat.UserByHandle(args[1])
	if !ok {
		return nil
	}
	s.chat.Kick(channelID, u.ID)
	return nil
}

func (s *Server) cmdInvite(args []string, trailing string) error {
	if len(args) < 2 {
		return nil
	}
	u, ok := s.chat.UserByHandle(args[0])
	if !ok {
		return nil
	}
	channelID, _, ok := s.resolveTarget(args[1])
	if !ok {
		return nil
	}
	s.chat.Invite(channelID, u.ID)
	return nil
}

func (s *Server) cmdAway(args []string, trailing string) error {
	away := trailing != "" || len(args) > 0
	s.chat.SetPresence(away)
	if away {
		s.writeNumeric(rplNowAway, "", "You have been marked as away")
	} else {
		s.writeNumeric(rplUnaway, "", "You are no longer marked as away")
	}
	return nil
}

func (s *Server) cmdSendfile(args []string, trailing string) error {
	if len(args) < 2 {
		return nil
	}
	target, path := args[0], args[1]
	channelID, threadTS, ok := s.resolveTarget(target)
	if !ok {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("sendfile: cannot open")
		return nil
	}
	defer f.Close()
	if err := s.chat.SendFile(channelID, f, filepath.Base(path), threadTS); err != nil {
		s.log.Warn().Err(err).Msg("sendfile failed")
	}
	return nil
}

func (s *Server) cmdAnnoy(args []string, trailing string) error {
	if len(args) == 0 {
		return nil
	}
	minutes := 10
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			minutes = n
		}
	}
	u, ok := s.chat.UserByHandle(args[0])
	if !ok {
		s.writeNumeric(errNoSuchNick, args[0], "No such nick")
		return nil
	}
	s.chat.Annoy(u.ID, time.Now().Add(time.Duration(minutes)*time.Minute).Unix())
	return nil
}

func (s *Server) cmdUserhost(args []string, trailing string) error {
	var parts []string
	for _, nick := range args {
		parts = append(parts, nick+"=+"+s.serverName())
	}
	s.writeNumeric(rplUserHost, "", strings.Join(parts, " "))
	return nil
}
