package ircserver

import (
	"fmt"
	"strings"

	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/slackclient"
	"github.com/localslackirc/bridge/internal/slacktext"
)

// renderChatEvent is the outgoing-rendering entry point (spec §4.5): one
// chat event becomes zero or more PRIVMSG/JOIN/PART/TOPIC lines.
func (s *Server) renderChatEvent(ev any) {
	switch e := ev.(type) {
	case models.Message:
		s.renderMessage(e.ChannelID, e.UserID, e.Text, e.ThreadTS, false)

	case models.ActionMessage:
		s.renderMessage(e.ChannelID, e.UserID, e.Text, e.ThreadTS, true)

	case models.MessageBot:
		text := "[" + botName(e) + "] " + e.RenderedText()
		s.renderMessage(e.ChannelID, e.UserID, text, e.ThreadTS, false)

	case models.MessageEdit:
		if !e.IsChanged() {
			return
		}
		diff := slacktext.SedDiff(e.Previous.Text, e.Current.Text)
		if diff == "" {
			return
		}
		s.renderMessage(e.ChannelID, e.Previous.UserID, diff, e.Previous.ThreadTS, false)

	case models.MessageDelete:
		s.renderMessage(e.ChannelID, e.Previous.UserID, "[deleted] "+e.Previous.Text, e.Previous.ThreadTS, false)

	case slackclient.TopicChange:
		s.renderTopicChange(e)

	case slackclient.GroupJoined:
		s.joinChannelToIRC(e.Channel)

	case slackclient.JoinEvent:
		s.invalidateMentionRegexp(e.ChannelID)
		s.renderMembership(e.ChannelID, e.UserID, "JOIN")

	case slackclient.LeaveEvent:
		s.invalidateMentionRegexp(e.ChannelID)
		s.renderMembership(e.ChannelID, e.UserID, "PART")

	case slackclient.UserTypingEvent:
		// Suppressed: the only reaction to being annoyed is the Slack-side
		// typing reply slackclient already sent (spec §4.4).

	case slackclient.AnnoyExpired:
		s.renderAnnoyExpired(e)

	case slackclient.UserChange:
		// Cache invalidation already happened in the chat client; nothing
		// to render until the user is next referenced.
	}
}

func botName(e models.MessageBot) string {
	if e.Username != "" {
		return e.Username
	}
	return "bot"
}

// renderMessage resolves the destination, applies thread synthesis, and
// emits one PRIVMSG per non-empty line of the parsed text.
func (s *Server) renderMessage(channelID, userID, text string, threadTS models.Timestamp, action bool) {
	destName, _ := s.resolveDestination(channelID, threadTS, text)
	if destName == "" {
		return // suppressed by parted/thread rules
	}
	s.logRelayed("inbound", channelID, userID, text)

	srcHandle := "unknown"
	if u, err := s.chat.GetUser(userID); err == nil {
		srcHandle = u.Handle
	}

	rendered := s.renderInbound(text, srcHandle, destName)
	for _, line := range strings.Split(rendered, "\n") {
		if line == "" {
			continue
		}
		if action {
			line = "\x01ACTION " + line + "\x01"
		}
		s.writeFrom(srcHandle+"!"+srcHandle+"@127.0.0.1", "PRIVMSG", destName+" :"+line)
	}
}

// resolveDestination implements thread synthesis and parted-channel
// suppression (spec §4.5 Thread synthesis). It returns "" when the event
// must be dropped.
func (s *Server) resolveDestination(channelID string, threadTS models.Timestamp, text string) (destName string, mentionsSelf bool) {
	selfID := s.chat.Workspace().SelfID
	mentionsSelf = selfID != "" && strings.Contains(text, "<@"+selfID+">")

	ch, err := s.chat.GetChannel(channelID)
	chanName := channelID
	if err == nil {
		chanName = ch.Name
	}

	if threadTS == "" {
		name := "#" + chanName
		if s.isParted(name) {
			if !mentionsSelf || s.cfg.NoRejoinOnMention {
				return "", mentionsSelf
			}
			s.rejoin(name)
		}
		return name, mentionsSelf
	}

	thread := models.MessageThread{ParentChannelID: channelID, ThreadTS: threadTS}
	syntheticName := "#" + thread.SyntheticName(chanName)
	if s.isParted(syntheticName) {
		if !mentionsSelf || s.cfg.NoRejoinOnMention {
			return "", mentionsSelf
		}
		s.rejoin(syntheticName)
		return syntheticName, mentionsSelf
	}

	parentParted := s.isParted("#" + chanName)
	if parentParted && !s.knowsThread(syntheticName) && (!mentionsSelf || s.cfg.NoRejoinOnMention) {
		return "", mentionsSelf
	}

	if !s.knowsThread(syntheticName) {
		thread, err := s.chat.GetThread(channelID, threadTS)
		if err != nil {
			return "", mentionsSelf
		}
		s.rememberThread(syntheticName, thread)
		s.sendJoinBlock(syntheticName, thread.RealTopic(), nil)
	}
	return syntheticName, mentionsSelf
}

func (s *Server) isParted(name string) bool {
	s.partedMu.Lock()
	defer s.partedMu.Unlock()
	return s.parted[strings.ToLower(name)]
}

func (s *Server) rejoin(name string) {
	s.partedMu.Lock()
	delete(s.parted, strings.ToLower(name))
	s.partedMu.Unlock()
	s.writeFrom(s.mask(), "JOIN", name)
}

func (s *Server) part(name string) {
	s.partedMu.Lock()
	s.parted[strings.ToLower(name)] = true
	s.partedMu.Unlock()
}

func (s *Server) knowsThread(name string) bool {
	s.threadsMu.Lock()
	defer s.threadsMu.Unlock()
	_, ok := s.threads[strings.ToLower(name)]
	return ok
}

func (s *Server) rememberThread(name string, t models.MessageThread) {
	s.threadsMu.Lock()
	s.threads[strings.ToLower(name)] = t
	s.threadsMu.Unlock()
}

func (s *Server) forgetThread(name string) {
	s.threadsMu.Lock()
	delete(s.threads, strings.ToLower(name))
	s.threadsMu.Unlock()
}

// sendJoinBlock emits JOIN/TOPIC/NAMREPLY/ENDOFNAMES for name, used both at
// explicit JOIN and at thread-synthesis time.
func (s *Server) sendJoinBlock(name, topic string, members []string) {
	s.writeFrom(s.mask(), "JOIN", name)
	if topic != "" {
		s.writeNumeric(rplTopic, name, topic)
	} else {
		s.writeNumeric(rplNoTopic, name, "No topic is set")
	}
	var handles []string
	for _, id := range members {
		if u, err := s.chat.GetUser(id); err == nil {
			handles = append(handles, u.Handle)
		}
	}
	if len(handles) > 0 {
		s.writeNumeric(rplNameReply, "= "+name, strings.Join(handles, " "))
	}
	s.writeNumeric(rplEndOfNames, name, "End of /NAMES list")
}

func (s *Server) joinChannelToIRC(ch models.Channel) {
	members := s.chat.GetMembers(ch.ID)
	s.sendJoinBlock("#"+ch.Name, ch.RealTopic(), members)
}

func (s *Server) renderTopicChange(e slackclient.TopicChange) {
	ch, err := s.chat.GetChannel(e.ChannelID)
	if err != nil {
		return
	}
	s.writeNumeric(rplTopic, "#"+ch.Name, e.Topic)
}

func (s *Server) renderMembership(channelID, userID, command string) {
	ch, err := s.chat.GetChannel(channelID)
	if err != nil {
		return
	}
	u, err := s.chat.GetUser(userID)
	if err != nil {
		return
	}
	mask := u.Handle + "!" + u.Handle + "@127.0.0.1"
	s.writeFrom(mask, command, "#"+ch.Name)
}

// renderAnnoyExpired tells the IRC client an annoy-table entry it set with
// ANNOY has run out, matching the original's one-time "No longer annoying"
// notice (spec §4.4).
func (s *Server) renderAnnoyExpired(e slackclient.AnnoyExpired) {
	handle := e.UserID
	if u, err := s.chat.GetUser(e.UserID); err == nil {
		handle = u.Handle
	}
	s.writeLine(fmt.Sprintf(":%s NOTICE %s :No longer annoying %s", s.serverName(), s.nick, handle))
}
