package ircserver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/localslackirc/bridge/internal/slacktext"
)

// preformattedCounter hands out unique suffixes for spilled preformatted
// blocks within a process lifetime.
var preformattedCounter counter

type counter struct{ n atomic.Uint64 }

func (c *counter) next() uint64 { return c.n.Add(1) }

// yellWords maps a Slack yell value to its outgoing IRC attribution word.
var yellWords = map[string]string{
	"here":      "yelling",
	"channel":   "YELLING LOUDER",
	"everyone":  "DEAFENING YELL",
}

// superscriptDigits renders 0-9 as superscript numerals for link footnotes.
var superscriptDigits = []rune("⁰¹²³⁴⁵⁶⁷⁸⁹")

func superscript(n int) string {
	var sb strings.Builder
	for _, r := range strconv.Itoa(n) {
		sb.WriteRune(superscriptDigits[r-'0'])
	}
	return sb.String()
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// outboundMagic rewrites a locally-typed message into Slack wire text
// (spec §4.5.1): HTML entities are encoded, @here/@channel/@everyone become
// <!...> yells, and — when destChannelID names a channel — member handles
// are rewritten to <@id> mentions, applied right-to-left to preserve byte
// offsets.
func (s *Server) outboundMagic(text, destChannelID string) string {
	text = slacktext.EncodeEntities(text)
	text = strings.ReplaceAll(text, "@here", "<!here>")
	text = strings.ReplaceAll(text, "@channel", "<!channel>")
	text = strings.ReplaceAll(text, "@everyone", "<!everyone>")

	if destChannelID == "" {
		return text
	}
	re, handleToID := s.mentionRegexpFor(destChannelID)
	if re == nil {
		return text
	}
	return rewriteMentionsRightToLeft(text, re, func(handle string) string {
		return "<@" + handleToID[handle] + ">"
	})
}

// mentionCacheEntry pairs a compiled regexp with the handle->id lookup
// needed to turn a matched handle back into a Slack user id.
type mentionCacheEntry struct {
	re         *regexp.Regexp
	handleToID map[string]string
}

// mentionRegexpFor builds (and caches) a regexp matching any member handle
// of channelID, so outbound text can rewrite bare "@handle" mentions.
func (s *Server) mentionRegexpFor(channelID string) (*regexp.Regexp, map[string]string) {
	s.mentionReMu.Lock()
	if e, ok := s.mentionRe[channelID]; ok {
		s.mentionReMu.Unlock()
		return e.re, e.handleToID
	}
	s.mentionReMu.Unlock()

	members := s.chat.GetMembers(channelID)
	if len(members) == 0 {
		return nil, nil
	}
	var handles []string
	handleToID := make(map[string]string, len(members))
	for _, id := range members {
		u, err := s.chat.GetUser(id)
		if err != nil || u.Handle == "" {
			continue
		}
		handles = append(handles, regexp.QuoteMeta(u.Handle))
		handleToID[u.Handle] = id
	}
	if len(handles) == 0 {
		return nil, nil
	}
	re := regexp.MustCompile(`@(` + strings.Join(handles, "|") + `)\b`)

	s.mentionReMu.Lock()
	s.mentionRe[channelID] = mentionCacheEntry{re: re, handleToID: handleToID}
	s.mentionReMu.Unlock()
	return re, handleToID
}

// invalidateMentionRegexp drops a channel's cached mention regexp, called
// on join/leave events so membership changes are picked up.
func (s *Server) invalidateMentionRegexp(channelID string) {
	s.mentionReMu.Lock()
	delete(s.mentionRe, channelID)
	s.mentionReMu.Unlock()
}

// rewriteMentionsRightToLeft finds every match of re not inside a "://..."
// URL run and replaces it via rewrite, applying matches from the end of the
// string backwards so earlier offsets stay valid.
func rewriteMentionsRightToLeft(text string, re *regexp.Regexp, rewrite func(handle string) string) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		start, end := m[0], m[1]
		if insideURL(text, start) {
			continue
		}
		handle := text[m[2]:m[3]]
		text = text[:start] + rewrite(handle) + text[end:]
	}
	return text
}

// insideURL reports whether position pos in text falls within a run that
// looks like "scheme://..." immediately to its left.
func insideURL(text string, pos int) bool {
	left := text[:pos]
	idx := strings.LastIndex(left, "://")
	if idx < 0 {
		return false
	}
	// Anything between the "://" and pos with no whitespace is part of the URL.
	return !strings.ContainsAny(left[idx:], " \t\n")
}

// renderInbound walks the tokenizer output and produces the IRC-bound text
// for a Slack message (spec §4.5.1). The bridge's own name is read from the
// chat client's workspace; srcHandle/destName gate yell attribution via
// silenced_yellers.
func (s *Server) renderInbound(text, srcHandle, destName string) string {
	tokens := slacktext.Tokenize(text, nil)

	var body strings.Builder
	var footer strings.Builder
	refs := 0

	for _, tok := range tokens {
		switch tok.Kind {
		case slacktext.KindPlain:
			body.WriteString(tok.Text)

		case slacktext.KindPreBlock:
			body.WriteString(s.renderPreBlock(tok))

		case slacktext.KindMention:
			if u, err := s.chat.GetUser(tok.Value); err == nil {
				body.WriteString(u.Handle)
			} else {
				body.WriteString(tok.Value)
			}

		case slacktext.KindChannel:
			if ch, err := s.chat.GetChannel(tok.Value); err == nil {
				body.WriteString("#" + ch.Name)
			} else {
				body.WriteString("#ERROR_MISSING_CHANNEL")
			}

		case slacktext.KindYell:
			word := yellWords[tok.Value]
			selfName := s.chat.Workspace().SelfName
			silenced := s.cfg.SilencedYellers[srcHandle] || s.cfg.SilencedYellers[destName]
			if silenced || selfName == "" {
				body.WriteString(word + ":")
			} else {
				body.WriteString(word + " [" + selfName + "]:")
			}

		case slacktext.KindLink:
			label := ""
			if tok.Human != nil {
				label = *tok.Human
			}
			if label == "" {
				body.WriteString(tok.Value)
				continue
			}
			if looksLikeURL(label) {
				label = "LINK"
			}
			refs++
			body.WriteString(label + superscript(refs))
			fmt.Fprintf(&footer, "\n  %s %s", superscript(refs), tok.Value)
		}
	}

	return body.String() + footer.String()
}

// renderPreBlock emits a fenced code block, or spills to a file under
// DownloadsDirectory and emits a file:// reference when the block is
// longer than FormattedMaxLines (spec §4.5.1).
func (s *Server) renderPreBlock(tok slacktext.Token) string {
	if s.cfg.FormattedMaxLines > 0 && tok.Lines() > s.cfg.FormattedMaxLines {
		name := fmt.Sprintf("preformatted-%d.txt", preformattedCounter.next())
		path := filepath.Join(s.cfg.DownloadsDirectory, name)
		if err := os.WriteFile(path, []byte(tok.Text), 0o644); err == nil {
			return "\n === PREFORMATTED TEXT AT file://" + path + "\n"
		}
	}
	return "```" + tok.Text + "```"
}
