package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store that records saves and can be told to fail.
type memStore struct {
	mu      sync.Mutex
	table   Table
	saves   int
	failErr error
}

func (s *memStore) Load(context.Context) Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone()
}

func (s *memStore) Save(_ context.Context, t Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failErr != nil {
		return s.failErr
	}
	s.table = t.Clone()
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *memStore) {
	t.Helper()
	st := &memStore{table: Table{}}
	r := NewRegistry(st, nil)
	r.Hydrate(context.Background())
	return r, st
}

func TestAddMapping_AppearsLastForSource(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.AddMapping(ctx, "G1", "C1", "C2", "")
	require.NoError(t, err)
	added, err := r.AddMapping(ctx, "G1", "C1", "C9", "G1")
	require.NoError(t, err)

	got := r.MappingsForSource("G1", "C1")
	require.Len(t, got, 2)
	assert.Equal(t, added, got[len(got)-1])
	assert.Equal(t, "", added.TargetGuild, "same-guild target is stored without targetGuild")
	assert.Equal(t, 2, st.saves)
	assert.Equal(t, 2, st.table.Len())
}

func TestAddMapping_FanOut(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.AddMapping(ctx, "G1", "C1", "C2", "")
	require.NoError(t, err)
	_, err = r.AddMapping(ctx, "G1", "C1", "C3", "G2")
	require.NoError(t, err)

	got := r.MappingsForSource("G1", "C1")
	assert.Equal(t, []Mapping{
		{Source: "C1", Target: "C2"},
		{Source: "C1", Target: "C3", TargetGuild: "G2"},
	}, got)
}

func TestAddMapping_DuplicatesKept(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.AddMapping(ctx, "G1", "C1", "C2", "")
		require.NoError(t, err)
	}

	got := r.MappingsForSource("G1", "C1")
	require.Len(t, got, 2)
	assert.Equal(t, got[0], got[1])
}

func TestAddMapping_SaveFailureRollsBack(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.AddMapping(ctx, "G1", "C1", "C2", "")
	require.NoError(t, err)

	st.failErr = errors.New("disk full")
	_, err = r.AddMapping(ctx, "G1", "C1", "C3", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)

	got := r.MappingsForSource("G1", "C1")
	assert.Equal(t, []Mapping{{Source: "C1", Target: "C2"}}, got)

	_, err = r.AddMapping(ctx, "G9", "C1", "C3", "")
	require.Error(t, err)
	assert.NotContains(t, r.AllGuildIDs(), "G9")
}

func TestMappingsForSource_NoMatch(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.AddMapping(context.Background(), "G1", "C1", "C2", "")
	require.NoError(t, err)

	assert.Empty(t, r.MappingsForSource("G1", "C404"))
	assert.Empty(t, r.MappingsForSource("G404", "C1"))
}

func TestMappingsForSource_ReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.AddMapping(context.Background(), "G1", "C1", "C2", "")
	require.NoError(t, err)

	got := r.MappingsForSource("G1", "C1")
	got[0].Target = "mutated"

	assert.Equal(t, "C2", r.MappingsForSource("G1", "C1")[0].Target)
}

func TestAllGuildIDs(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	assert.Empty(t, r.AllGuildIDs())

	_, err := r.AddMapping(ctx, "G2", "C1", "C2", "")
	require.NoError(t, err)
	_, err = r.AddMapping(ctx, "G1", "C5", "C6", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"G1", "G2"}, r.AllGuildIDs())
}

func TestRemoveMappings(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	for _, target := range []string{"C2", "C3", "C2"} {
		_, err := r.AddMapping(ctx, "G1", "C1", target, "")
		require.NoError(t, err)
	}
	_, err := r.AddMapping(ctx, "G1", "C7", "C8", "")
	require.NoError(t, err)

	n, err := r.RemoveMappings(ctx, "G1", "C1", "C2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []Mapping{{Source: "C1", Target: "C3"}}, r.MappingsForSource("G1", "C1"))

	n, err = r.RemoveMappings(ctx, "G1", "C1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	savesBefore := st.saves
	n, err = r.RemoveMappings(ctx, "G1", "C1", "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, savesBefore, st.saves, "no-op removal must not save")

	n, err = r.RemoveMappings(ctx, "G1", "C7", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, r.AllGuildIDs())
}

func TestRemoveMappings_SaveFailureRollsBack(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.AddMapping(ctx, "G1", "C1", "C2", "")
	require.NoError(t, err)

	st.failErr = errors.New("read-only filesystem")
	_, err = r.RemoveMappings(ctx, "G1", "C1", "")
	require.ErrorIs(t, err, ErrPersist)

	assert.Len(t, r.MappingsForSource("G1", "C1"), 1)
}

func TestHydrate_ReplacesState(t *testing.T) {
	st := &memStore{table: Table{
		"G1": {{Source: "C1", Target: "C2"}},
		"G2": {{Source: "C3", Target: "C4", TargetGuild: "G1"}},
	}}
	r := NewRegistry(st, nil)
	r.Hydrate(context.Background())

	assert.Equal(t, []string{"G1", "G2"}, r.AllGuildIDs())
	assert.Equal(t, st.table, r.Snapshot())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.AddMapping(ctx, "G1", "C1", "C2", "")
		}()
		go func() {
			defer wg.Done()
			_ = r.MappingsForSource("G1", "C1")
			_ = r.AllGuildIDs()
		}()
	}
	wg.Wait()

	assert.Len(t, r.MappingsForSource("G1", "C1"), 20)
}

func TestMapping_ResolveTargetGuild(t *testing.T) {
	same := Mapping{Source: "C1", Target: "C2"}
	cross := Mapping{Source: "C1", Target: "C3", TargetGuild: "G2"}

	assert.Equal(t, "G1", same.ResolveTargetGuild("G1"))
	assert.False(t, same.CrossGuild("G1"))
	assert.Equal(t, "G2", cross.ResolveTargetGuild("G1"))
	assert.True(t, cross.CrossGuild("G1"))
}
