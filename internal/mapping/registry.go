package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPersist is wrapped by mutation errors when the Store rejected the save.
// The in-memory registry has already been rolled back when it is returned.
var ErrPersist = errors.New("mapping: persist failed")

// Registry is the working set of mappings. It is hydrated from a Store and
// every mutation is saved back before it is reported as done. It is safe for
// concurrent use.
type Registry struct {
	store  Store
	logger *slog.Logger

	// writeMu serializes mutate+save so a rollback restores exactly the
	// state the failed mutation started from.
	writeMu sync.Mutex

	mu     sync.RWMutex
	guilds Table
}

// NewRegistry returns an empty Registry backed by store. A nil logger
// defaults to slog.Default().
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger,
		guilds: make(Table),
	}
}

// Hydrate replaces the in-memory state with whatever the Store holds.
func (r *Registry) Hydrate(ctx context.Context) {
	loaded := r.store.Load(ctx).Clone()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	r.guilds = loaded
	r.mu.Unlock()

	r.logger.Info("mappings loaded", "guilds", len(loaded), "mappings", loaded.Len())
}

// AddMapping appends a mapping to guildID's list and persists the registry.
// Duplicates are accepted. Identifier validation is the caller's job.
func (r *Registry) AddMapping(ctx context.Context, guildID, source, target, targetGuild string) (Mapping, error) {
	m := Mapping{Source: source, Target: target}
	if targetGuild != guildID {
		m.TargetGuild = targetGuild
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	prev := r.guilds[guildID]
	next := make([]Mapping, len(prev), len(prev)+1)
	copy(next, prev)
	r.guilds[guildID] = append(next, m)
	snapshot := r.guilds.Clone()
	r.mu.Unlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		r.restore(guildID, prev)
		r.logger.Error("mapping add rolled back", "guild", guildID, "source", source, "target", target, "error", err)
		return Mapping{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	r.logger.Info("mapping added", "guild", guildID, "source", source, "target", target, "targetGuild", m.ResolveTargetGuild(guildID))
	return m, nil
}

// RemoveMappings deletes every mapping in guildID whose source matches and,
// when target is non-empty, whose target matches too. It returns how many
// mappings were removed. Removing nothing does not touch the Store.
func (r *Registry) RemoveMappings(ctx context.Context, guildID, source, target string) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	prev := r.guilds[guildID]
	kept := make([]Mapping, 0, len(prev))
	for _, m := range prev {
		if m.Source == source && (target == "" || m.Target == target) {
			continue
		}
		kept = append(kept, m)
	}
	removed := len(prev) - len(kept)
	if removed == 0 {
		r.mu.Unlock()
		return 0, nil
	}
	if len(kept) == 0 {
		delete(r.guilds, guildID)
	} else {
		r.guilds[guildID] = kept
	}
	snapshot := r.guilds.Clone()
	r.mu.Unlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		r.restore(guildID, prev)
		r.logger.Error("mapping removal rolled back", "guild", guildID, "source", source, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	r.logger.Info("mappings removed", "guild", guildID, "source", source, "target", target, "count", removed)
	return removed, nil
}

func (r *Registry) restore(guildID string, prev []Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(prev) == 0 {
		delete(r.guilds, guildID)
		return
	}
	r.guilds[guildID] = prev
}

// MappingsForSource returns the mappings of guildID whose source is
// channelID, in insertion order. The returned slice is a copy.
func (r *Registry) MappingsForSource(guildID, channelID string) []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Mapping
	for _, m := range r.guilds[guildID] {
		if m.Source == channelID {
			out = append(out, m)
		}
	}
	return out
}

// AllGuildIDs returns every guild with at least one mapping, sorted.
func (r *Registry) AllGuildIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guilds.GuildIDs()
}

// Snapshot returns a deep copy of the current state.
func (r *Registry) Snapshot() Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guilds.Clone()
}
