// Package access answers who may hold a channel's key. It reads the chat
// collaborator's channel, roster and group tables and never writes.
package access

import (
	"context"
	"sort"

	"channelkeys/internal/domain"
	"channelkeys/internal/store"
)

// HasAccess reports whether identity may hold the channel's key. The owner
// always may. A channel linked to groups is restricted to their members.
// A public channel without group links is open to the whole team roster.
func HasAccess(ctx context.Context, st *store.Store, identity, channelID string) (bool, error) {
	ch, err := st.Channels().Get(ctx, channelID)
	if err != nil {
		return false, err
	}
	return hasAccess(ctx, st, ch, identity)
}

func hasAccess(ctx context.Context, st *store.Store, ch *domain.Channel, identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	if ch.OwnerIdentity != nil && *ch.OwnerIdentity == identity {
		return true, nil
	}
	groups, err := st.Groups().GroupsForChannel(ctx, ch.ID)
	if err != nil {
		return false, err
	}
	if len(groups) > 0 {
		return st.Groups().IsMemberOfAny(ctx, identity, groups)
	}
	if ch.Public && !ch.Personal {
		return st.Members().Exists(ctx, identity)
	}
	return false, nil
}

// Members lists every identity with access to the channel, sorted.
func Members(ctx context.Context, st *store.Store, channelID string) ([]string, error) {
	ch, err := st.Channels().Get(ctx, channelID)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	if ch.OwnerIdentity != nil && *ch.OwnerIdentity != "" {
		seen[*ch.OwnerIdentity] = struct{}{}
	}

	groups, err := st.Groups().GroupsForChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	switch {
	case len(groups) > 0:
		for _, g := range groups {
			ids, err := st.Groups().Members(ctx, g)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		}
	case ch.Public && !ch.Personal:
		ids, err := st.Members().List(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ChannelsForGroup lists the encrypted channels linked to a group.
func ChannelsForGroup(ctx context.Context, st *store.Store, groupID string) ([]string, error) {
	ids, err := st.Groups().ChannelsForGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	channels, err := st.Channels().ListEncrypted(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ch.ID)
	}
	return out, nil
}
