package slackclient

import (
	"fmt"
	"io"

	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/transport"
)

// SendMessage posts text to channel (chat.postMessage, or chat.meMessage
// when action is set). When reSendToIRC is false, the returned ts is added
// to the sent-by-self set so the RTM echo of this send is suppressed —
// callers invoking on behalf of the IRC client pass false; the control
// socket's "write" command passes true so the message appears to IRC as if
// sent from elsewhere (spec §4.4, §4.6).
func (c *Client) SendMessage(channel, text string, action bool, threadTS models.Timestamp, reSendToIRC bool) (models.Timestamp, error) {
	c.inflight.Add(1)
	defer c.inflight.Done()

	method := "chat.postMessage"
	if action {
		method = "chat.meMessage"
	}

	fields := map[string]transport.Field{
		"channel": str(channel),
		"text":    str(text),
	}
	if threadTS != "" {
		fields["thread_ts"] = str(string(threadTS))
	}

	var payload struct {
		Ts string `json:"ts"`
	}
	if err := c.api.call("main", method, fields, &payload); err != nil {
		return "", err
	}

	if !reSendToIRC {
		c.addSentBySelf(payload.Ts)
	}
	return models.Timestamp(payload.Ts), nil
}

// SendFile uploads bytes as filename to channel (files.upload), optionally
// inside a thread.
func (c *Client) SendFile(channel string, body io.Reader, filename string, threadTS models.Timestamp) error {
	c.inflight.Add(1)
	defer c.inflight.Done()

	fields := map[string]transport.Field{
		"channels": str(channel),
		"filename": str(filename),
		"file":     {Reader: body, Filename: filename},
	}
	if threadTS != "" {
		fields["thread_ts"] = str(string(threadTS))
	}
	if err := c.api.call("upload", "files.upload", fields, nil); err != nil {
		return fmt.Errorf("slackclient: send file: %w", err)
	}
	return nil
}

// SetTopic sets a channel's topic via conversations.setTopic.
func (c *Client) SetTopic(channel, topic string) error {
	fields := map[string]transport.Field{"channel": str(channel), "topic": str(topic)}
	return c.api.call("main", "conversations.setTopic", fields, nil)
}

// Join calls conversations.join for channel.
func (c *Client) Join(channel string) error {
	return c.api.call("main", "conversations.join", map[string]transport.Field{"channel": str(channel)}, nil)
}

// Kick calls conversations.kick to remove userID from channel.
func (c *Client) Kick(channel, userID string) error {
	fields := map[string]transport.Field{"channel": str(channel), "user": str(userID)}
	return c.api.call("main", "conversations.kick", fields, nil)
}

// Invite calls conversations.invite to add userID to channel.
func (c *Client) Invite(channel, userID string) error {
	fields := map[string]transport.Field{"channel": str(channel), "users": str(userID)}
	return c.api.call("main", "conversations.invite", fields, nil)
}

// SetPresence sets the self-user's presence (away/auto) via users.setPresence.
func (c *Client) SetPresence(away bool) error {
	presence := "auto"
	if away {
		presence = "away"
	}
	return c.api.call("main", "users.setPresence", map[string]transport.Field{"presence": str(presence)}, nil)
}
