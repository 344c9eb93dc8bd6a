package slackclient

import (
	"github.com/localslackirc/bridge/internal/bridgeerr"
	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/transport"
)

// channelsPage is the paginated conversations.list/users.conversations shape.
type channelsPage struct {
	Channels []wireChannel `json:"channels"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// Channels paginates conversations.list (public, private, mpim). Best-effort:
// on any error mid-pagination it returns whatever was gathered so far,
// mirroring the original rate-limit tolerance (spec §9 open question).
func (c *Client) Channels() []models.Channel {
	return c.paginateChannels("conversations.list", map[string]string{"types": "public_channel,private_channel,mpim"})
}

// JoinedChannels is the user-scoped analog of Channels.
func (c *Client) JoinedChannels() []models.Channel {
	return c.paginateChannels("users.conversations", map[string]string{"types": "public_channel,private_channel,mpim"})
}

func (c *Client) paginateChannels(method string, baseFields map[string]string) []models.Channel {
	var out []models.Channel
	cursor := ""
	for {
		fields := map[string]transport.Field{"limit": intField(1000)}
		for k, v := range baseFields {
			fields[k] = str(v)
		}
		if cursor != "" {
			fields["cursor"] = str(cursor)
		}

		var page channelsPage
		if err := c.api.call("main", method, fields, &page); err != nil {
			c.log.Warn().Err(err).Str("method", method).Msg("channel pagination stopped early")
			return out
		}
		for _, wc := range page.Channels {
			m := wc.toModel()
			c.cache.putChannel(m)
			out = append(out, m)
		}
		if page.Metadata.NextCursor == "" || page.Metadata.NextCursor == cursor {
			return out
		}
		cursor = page.Metadata.NextCursor
	}
}

// GetMembers paginates conversations.members for channelID, unions the
// result into the cache and returns every fetched member id; ids newly
// observed since the previous snapshot are also emitted as synthetic Join
// events on the event channel.
func (c *Client) GetMembers(channelID string) []string {
	var all []string
	cursor := ""
	for {
		fields := map[string]transport.Field{"channel": str(channelID), "limit": intField(1000)}
		if cursor != "" {
			fields["cursor"] = str(cursor)
		}
		var page struct {
			Members  []string `json:"members"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.api.call("main", "conversations.members", fields, &page); err != nil {
			c.log.Warn().Err(err).Str("channel", channelID).Msg("member pagination stopped early")
			break
		}
		all = append(all, page.Members...)
		if page.Metadata.NextCursor == "" || page.Metadata.NextCursor == cursor {
			break
		}
		cursor = page.Metadata.NextCursor
	}

	added := c.cache.diffMembers(channelID, all)
	for _, id := range added {
		c.emit(JoinEvent{ChannelID: channelID, UserID: id})
	}
	return all
}

// GetIM returns the cached IM or refreshes the ims endpoint.
func (c *Client) GetIM(imID string) (models.IM, error) {
	if im, ok := c.cache.imByID(imID); ok {
		return im, nil
	}
	c.refreshIMs()
	if im, ok := c.cache.imByID(imID); ok {
		return im, nil
	}
	return models.IM{}, &bridgeerr.NotFoundError{Kind: "im", ID: imID}
}

// OpenIM returns the direct-message channel id for userID, opening one via
// conversations.open if none is cached yet.
func (c *Client) OpenIM(userID string) (models.IM, error) {
	if im, ok := c.cache.imByPeer(userID); ok {
		return im, nil
	}
	var payload struct {
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	if err := c.api.call("main", "conversations.open", map[string]transport.Field{"users": str(userID)}, &payload); err != nil {
		return models.IM{}, err
	}
	im := models.IM{ID: payload.Channel.ID, PeerID: userID}
	c.cache.putIM(im)
	return im, nil
}

func (c *Client) refreshIMs() {
	cursor := ""
	for {
		fields := map[string]transport.Field{"types": str("im"), "limit": intField(1000)}
		if cursor != "" {
			fields["cursor"] = str(cursor)
		}
		var page channelsPage
		if err := c.api.call("main", "conversations.list", fields, &page); err != nil {
			c.log.Warn().Err(err).Msg("im refresh stopped early")
			return
		}
		for _, wc := range page.Channels {
			c.cache.putIM(models.IM{ID: wc.ID, PeerID: wc.User})
		}
		if page.Metadata.NextCursor == "" || page.Metadata.NextCursor == cursor {
			return
		}
		cursor = page.Metadata.NextCursor
	}
}

// GetThread builds a MessageThread for (channel, threadTS), deriving its
// topic from the root message: "<user> in <channel>: <first line>".
func (c *Client) GetThread(channelID string, threadTS models.Timestamp) (models.MessageThread, error) {
	if t, ok := c.cache.threadByKey(channelID, threadTS); ok {
		return t, nil
	}

	var page struct {
		Messages []wireMessage `json:"messages"`
	}
	fields := map[string]transport.Field{
		"channel":   str(channelID),
		"latest":    str(string(threadTS)),
		"inclusive": boolField(true),
		"limit":     intField(1),
	}
	if err := c.api.call("main", "conversations.history", fields, &page); err != nil {
		return models.MessageThread{}, err
	}
	if len(page.Messages) == 0 {
		return models.MessageThread{}, &bridgeerr.NotFoundError{Kind: "thread", ID: string(threadTS)}
	}

	root := page.Messages[0]
	parent, _ := c.GetChannel(channelID)
	userHandle := root.User
	if u, err := c.GetUser(root.User); err == nil {
		userHandle = u.Handle
	}

	firstLine := firstLineOf(root.Text)
	t := models.MessageThread{
		Channel: models.Channel{
			ID:    channelID + ":" + string(threadTS),
			Topic: userHandle + " in " + parent.Name + ": " + firstLine,
		},
		ParentChannelID: channelID,
		ThreadTS:        threadTS,
	}
	c.cache.putThread(t)
	return t, nil
}

func firstLineOf(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
