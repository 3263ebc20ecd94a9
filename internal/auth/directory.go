package auth

import (
	"context"

	"github.com/talkio/pttd/internal/domain"
)

// StaticDirectory is a membership directory backed by a channel-to-org table
// from configuration: a principal is a member of every channel owned by its
// organization. A deployment backed by the CRUD side's group tables plugs in
// behind the same app.Directory interface.
type StaticDirectory struct {
	channels map[domain.ChannelID]domain.OrgID
}

func NewStaticDirectory(channels map[string]string) *StaticDirectory {
	table := make(map[domain.ChannelID]domain.OrgID, len(channels))
	for ch, org := range channels {
		table[domain.ChannelID(ch)] = domain.OrgID(org)
	}
	return &StaticDirectory{channels: table}
}

func (d *StaticDirectory) IsMember(ctx context.Context, p domain.Principal, ch domain.ChannelID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	org, ok := d.channels[ch]
	return ok && org == p.OrgID, nil
}
