package slackclient

import (
	"github.com/localslackirc/bridge/internal/models"
)

// Config carries everything the client needs beyond the persisted status
// blob, sourced from internal/config at startup.
type Config struct {
	Token  string
	Cookie string
}

// TopicChange is an RTM event reporting a channel's topic or purpose was set.
type TopicChange struct {
	ChannelID string
	Topic     string
}

// GroupJoined reports the local user was added to a channel or group.
type GroupJoined struct {
	Channel models.Channel
}

// JoinEvent reports a member appeared in a channel (real, or synthesized
// from a membership diff in GetMembers).
type JoinEvent struct {
	ChannelID string
	UserID    string
}

// LeaveEvent reports a member left a channel.
type LeaveEvent struct {
	ChannelID string
	UserID    string
}

// UserTypingEvent is surfaced only when the typing user is in the annoy
// table and the entry has not expired (spec §4.4). It carries no IRC-visible
// rendering of its own; the client's only visible reaction to being annoyed
// is the Slack-side typing reply sent alongside it.
type UserTypingEvent struct {
	ChannelID string
	UserID    string
}

// AnnoyExpired reports that an annoy-table entry was found expired while
// handling a typing event (spec §4.4). Rendered once as an IRC NOTICE.
type AnnoyExpired struct {
	UserID string
}

// UserChange invalidates the matching user cache entry.
type UserChange struct {
	UserID string
}

// Disconnected, when received on the event channel, is treated by the IRC
// server as a bridge-disconnect signal (spec §4.7). Client.Run never sends
// it: Run keeps reconnecting the RTM socket until its context is cancelled.
type Disconnected struct {
	Err error
}
