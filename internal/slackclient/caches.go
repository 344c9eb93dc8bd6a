package slackclient

import (
	"sync"

	"github.com/localslackirc/bridge/internal/bridgeerr"
	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/transport"
)

// entityCache holds the client's id-keyed caches. Each map has an explicit
// invalidate method rather than a generic LRU (spec §9 redesign note).
type entityCache struct {
	mu sync.Mutex

	users      map[string]models.User
	usersByTag map[string]string // handle -> id

	channels map[string]models.Channel
	ims      map[string]models.IM

	// members is the last-known member set per channel, used to diff
	// against a fresh fetch and synthesize Join events for newcomers.
	members map[string]map[string]bool

	threads map[string]models.MessageThread // keyed by "channel:ts"
}

func newEntityCache() *entityCache {
	return &entityCache{
		users:      make(map[string]models.User),
		usersByTag: make(map[string]string),
		channels:   make(map[string]models.Channel),
		ims:        make(map[string]models.IM),
		members:    make(map[string]map[string]bool),
		threads:    make(map[string]models.MessageThread),
	}
}

func (e *entityCache) putUser(u models.User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users[u.ID] = u
	e.usersByTag[u.Handle] = u.ID
}

func (e *entityCache) invalidateUser(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u, ok := e.users[id]; ok {
		delete(e.usersByTag, u.Handle)
	}
	delete(e.users, id)
}

func (e *entityCache) userByID(id string) (models.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[id]
	return u, ok
}

func (e *entityCache) userByHandle(handle string) (models.User, bool) {
	e.mu.Lock()
	id, ok := e.usersByTag[handle]
	e.mu.Unlock()
	if !ok {
		return models.User{}, false
	}
	return e.userByID(id)
}

func (e *entityCache) putChannel(c models.Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[c.ID] = c
}

func (e *entityCache) channelByID(id string) (models.Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.channels[id]
	return c, ok
}

func (e *entityCache) channelByName(name string) (models.Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.channels {
		if c.Name == name {
			return c, true
		}
	}
	return models.Channel{}, false
}

func (e *entityCache) allChannels() []models.Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Channel, 0, len(e.channels))
	for _, c := range e.channels {
		out = append(out, c)
	}
	return out
}

func (e *entityCache) putIM(im models.IM) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ims[im.ID] = im
}

func (e *entityCache) imByID(id string) (models.IM, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	im, ok := e.ims[id]
	return im, ok
}

func (e *entityCache) imByPeer(userID string) (models.IM, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, im := range e.ims {
		if im.PeerID == userID {
			return im, true
		}
	}
	return models.IM{}, false
}

func (e *entityCache) imIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.ims))
	for id := range e.ims {
		out = append(out, id)
	}
	return out
}

// diffMembers unions newMembers into the cached set for channelID and
// returns the ids that are newly present (never seen in a prior snapshot).
// A channel with no prior snapshot yields no synthetic joins — it is
// simply initialized (spec §4.4 getMembers).
func (e *entityCache) diffMembers(channelID string, newMembers []string) (added []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, seeded := e.members[channelID]
	set := prev
	if set == nil {
		set = make(map[string]bool)
	}
	for _, id := range newMembers {
		if seeded && !set[id] {
			added = append(added, id)
		}
		set[id] = true
	}
	e.members[channelID] = set
	return added
}

func (e *entityCache) putThread(t models.MessageThread) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threads[threadKey(t.ParentChannelID, t.ThreadTS)] = t
}

func (e *entityCache) threadByKey(channelID string, ts models.Timestamp) (models.MessageThread, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.threads[threadKey(channelID, ts)]
	return t, ok
}

func threadKey(channelID string, ts models.Timestamp) string {
	return channelID + ":" + string(ts)
}

// --- fetch-if-absent wrappers, used by the IRC layer ---

func (c *Client) GetUser(id string) (models.User, error) {
	if u, ok := c.cache.userByID(id); ok {
		return u, nil
	}
	return c.fetchUser(id)
}

func (c *Client) fetchUser(id string) (models.User, error) {
	var payload struct {
		User userWire `json:"user"`
	}
	if err := c.api.call("main", "users.info", map[string]transport.Field{"user": str(id)}, &payload); err != nil {
		if rerr, ok := err.(*bridgeerr.ResponseError); ok && rerr.NumericHint() == 401 {
			return models.User{}, &bridgeerr.NotFoundError{Kind: "user", ID: id}
		}
		return models.User{}, err
	}
	u := payload.User.toModel()
	c.cache.putUser(u)
	return u, nil
}

func (c *Client) GetChannel(id string) (models.Channel, error) {
	if ch, ok := c.cache.channelByID(id); ok {
		return ch, nil
	}
	var payload struct {
		Channel wireChannel `json:"channel"`
	}
	if err := c.api.call("main", "conversations.info", map[string]transport.Field{"channel": str(id)}, &payload); err != nil {
		if rerr, ok := err.(*bridgeerr.ResponseError); ok && rerr.NumericHint() == 403 {
			return models.Channel{}, &bridgeerr.NotFoundError{Kind: "channel", ID: id}
		}
		return models.Channel{}, err
	}
	ch := payload.Channel.toModel()
	c.cache.putChannel(ch)
	return ch, nil
}
