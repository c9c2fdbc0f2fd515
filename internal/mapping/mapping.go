// Package mapping holds the forwarding rules and the in-memory registry that
// is consulted for every message the bot sees.
package mapping

import (
	"context"
	"sort"
)

// Mapping forwards messages from one source channel to one target channel.
// It is always stored under the guild that owns the source channel.
type Mapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
	// TargetGuild is empty when the target lives in the owning guild.
	TargetGuild string `json:"targetGuild,omitempty"`
}

// ResolveTargetGuild returns the guild the target channel must be looked up
// in: the explicit TargetGuild when set, otherwise owner.
func (m Mapping) ResolveTargetGuild(owner string) string {
	if m.TargetGuild != "" {
		return m.TargetGuild
	}
	return owner
}

// CrossGuild reports whether m forwards outside of owner.
func (m Mapping) CrossGuild(owner string) bool {
	return m.ResolveTargetGuild(owner) != owner
}

// Table is the persisted document: guild ID -> mappings in insertion order.
type Table map[string][]Mapping

// Clone returns a deep copy of t. Guilds with no mappings are dropped.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for guildID, list := range t {
		if len(list) == 0 {
			continue
		}
		cp := make([]Mapping, len(list))
		copy(cp, list)
		out[guildID] = cp
	}
	return out
}

// Len returns the total number of mappings across all guilds.
func (t Table) Len() int {
	n := 0
	for _, list := range t {
		n += len(list)
	}
	return n
}

// GuildIDs returns the guilds that have at least one mapping, sorted.
func (t Table) GuildIDs() []string {
	ids := make([]string, 0, len(t))
	for guildID, list := range t {
		if len(list) > 0 {
			ids = append(ids, guildID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Store persists a Table as a single unit.
//
// Load never fails: a missing, unreadable or malformed document yields an
// empty Table. Save must not leave a partially written document behind.
type Store interface {
	Load(ctx context.Context) Table
	Save(ctx context.Context, t Table) error
}
