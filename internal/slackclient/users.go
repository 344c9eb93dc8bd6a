package slackclient

import (
	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/transport"
)

type userWire struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
	IsAdmin bool   `json:"is_admin"`
	Profile struct {
		RealName   string `json:"real_name"`
		Email      string `json:"email"`
		StatusText string `json:"status_text"`
	} `json:"profile"`
}

func (w userWire) toModel() models.User {
	return models.User{
		ID:      w.ID,
		Handle:  w.Name,
		IsAdmin: w.IsAdmin,
		Deleted: w.Deleted,
		Profile: models.UserProfile{
			RealName:   w.Profile.RealName,
			Email:      w.Profile.Email,
			StatusText: w.Profile.StatusText,
		},
	}
}

// ListUsers prefetches the workspace's user list via users.list, populating
// the entity cache so later UserByHandle lookups don't need a round trip.
// Best-effort: rate-limit or pagination errors return whatever was
// gathered so far (spec §9, same tolerance as paginateChannels).
func (c *Client) ListUsers() []models.User {
	var out []models.User
	cursor := ""
	for {
		fields := map[string]transport.Field{"limit": intField(200)}
		if cursor != "" {
			fields["cursor"] = str(cursor)
		}
		var page struct {
			Members  []userWire `json:"members"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.api.call("main", "users.list", fields, &page); err != nil {
			c.log.Warn().Err(err).Msg("users.list stopped early")
			return out
		}
		for _, w := range page.Members {
			u := w.toModel()
			c.cache.putUser(u)
			out = append(out, u)
		}
		if page.Metadata.NextCursor == "" || page.Metadata.NextCursor == cursor {
			return out
		}
		cursor = page.Metadata.NextCursor
	}
}

// UserByHandle resolves a handle to a cached user. It never calls the API:
// callers needing a guaranteed-fresh lookup should ListUsers first.
func (c *Client) UserByHandle(handle string) (models.User, bool) {
	return c.cache.userByHandle(handle)
}
