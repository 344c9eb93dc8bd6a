// Package models holds the shared domain types of spec §3 Data Model.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Timestamp is a Slack message timestamp. Per spec §9, comparisons are
// normalized to the string form for equality/map-keying, and parsed to
// float64 only when ordering is required.
type Timestamp string

// Float parses the timestamp to a float64 for ordering comparisons.
func (t Timestamp) Float() float64 {
	f, _ := strconv.ParseFloat(string(t), 64)
	return f
}

// Before reports whether t occurs strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Float() < other.Float()
}

// String identity of the workspace, captured once at login.
type Workspace struct {
	TeamID     string
	TeamName   string
	TeamDomain string
	SelfID     string
	SelfName   string
}

// LoginInfo is the result of rtm.connect: workspace identity plus the
// websocket URL to dial.
type LoginInfo struct {
	Workspace
	WebsocketURL string
}

// UserProfile carries the profile fields used for WHOIS/mention rendering.
type UserProfile struct {
	RealName   string
	Email      string
	StatusText string
	Restricted bool
	UltraRestr bool
}

// User is a Slack member. Identity is ID; deleted users are retained in
// the cache to render historical messages but excluded from membership
// listings (spec §3 invariant).
type User struct {
	ID      string
	Handle  string
	Profile UserProfile
	IsAdmin bool
	Deleted bool
}

// ChannelFlags mirror Slack's is_channel/is_group/is_mpim/is_member bits.
type ChannelFlags struct {
	IsMember  bool
	IsChannel bool
	IsGroup   bool
	IsMPIM    bool
}

// Channel is a Slack conversation: public channel, private group, or MPIM.
type Channel struct {
	ID          string
	Name        string
	Topic       string
	Purpose     string
	MemberCount int
	Flags       ChannelFlags
	LatestTS    Timestamp
}

// RealTopic is the topic if non-empty, else the purpose (spec §3).
func (c *Channel) RealTopic() string {
	if c.Topic != "" {
		return c.Topic
	}
	return c.Purpose
}

// MessageThread is a synthetic channel surfaced on IRC for a Slack
// thread. It is never a remote entity — it lives only in the IRC server.
type MessageThread struct {
	Channel
	ParentChannelID string
	ThreadTS        Timestamp
}

// SyntheticName returns the synthetic channel name "t-<parent>-<ts>".
func (mt *MessageThread) SyntheticName(parentChannelName string) string {
	return fmt.Sprintf("t-%s-%s", parentChannelName, mt.ThreadTS)
}

// ParseSyntheticName extracts the parent channel name and thread ts from
// a synthetic thread channel name, e.g. "t-general-1234.5678".
func ParseSyntheticName(name string) (parent string, ts Timestamp, ok bool) {
	if !strings.HasPrefix(name, "t-") {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, "t-")
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], Timestamp(rest[idx+1:]), true
}

// IM is a two-party direct-message channel.
type IM struct {
	ID     string
	PeerID string
}

// File metadata for an uploaded attachment.
type File struct {
	ID       string
	URL      string
	Size     int64
	Uploader string
	Name     string
	Title    string
	Mimetype string
}

// Message is the base chat event: a plain text message.
type Message struct {
	ChannelID string
	UserID    string
	Text      string
	TS        Timestamp
	ThreadTS  Timestamp
	Files     []File
}

// MessageBot is a bot-posted message, possibly with attachments.
type MessageBot struct {
	Message
	Username    string
	Attachments []BotAttachment
}

// BotAttachment is one Slack message attachment.
type BotAttachment struct {
	Text     string
	Fallback string
}

// RenderedText returns the raw text followed by each attachment's
// text-or-fallback, prefixed with "| " (spec §3).
func (m *MessageBot) RenderedText() string {
	var sb strings.Builder
	sb.WriteString(m.Text)
	for _, a := range m.Attachments {
		body := a.Text
		if body == "" {
			body = a.Fallback
		}
		if body == "" {
			continue
		}
		sb.WriteString("\n| ")
		sb.WriteString(body)
	}
	return sb.String()
}

// ActionMessage is a Message flagged as an IRC ACTION (Slack me_message).
type ActionMessage struct {
	Message
}

// NoChanMessage is a message shorn of channel routing — used inside edits.
type NoChanMessage struct {
	UserID   string
	Text     string
	TS       Timestamp
	ThreadTS Timestamp
}

// MessageEdit carries the previous and current text of an edited message.
type MessageEdit struct {
	ChannelID string
	Previous  NoChanMessage
	Current   NoChanMessage
}

// IsChanged reports whether the edit actually altered the text.
func (e *MessageEdit) IsChanged() bool {
	return e.Previous.Text != e.Current.Text
}

// MessageDelete carries the previous message that was deleted.
type MessageDelete struct {
	ChannelID string
	Previous  NoChanMessage
}

// AutoReaction is one configured {reaction, probability, expiration} entry.
type AutoReaction struct {
	Reaction    string
	Probability float64
	Expiration  int64 // unix seconds, 0 = never
}

// PersistedStatus is the on-disk status blob (spec §3, §6).
type PersistedStatus struct {
	LastTimestamp float64                   `json:"last_timestamp"`
	AutoReactions map[string][]AutoReaction `json:"autoreactions"`
	Annoy         map[string]int64          `json:"annoy"`
}
