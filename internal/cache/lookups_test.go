package cache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livedepartures/internal/domain"
	"livedepartures/internal/schedule"
	"livedepartures/internal/topology"
	"livedepartures/pkg/gtfs"
)

// memoryL2 stands in for Redis.
type memoryL2 struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryL2() *memoryL2 { return &memoryL2{data: make(map[string][]byte)} }

func (m *memoryL2) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (m *memoryL2) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *memoryL2) GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error) {
	return m.GetJSON(ctx, key, dest)
}

func (m *memoryL2) SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.SetJSON(ctx, key, value, ttl)
}

func (m *memoryL2) DeletePattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

type countingRepo struct {
	*schedule.MemoryStore
	agencyCalls int
}

func (c *countingRepo) Agency(ctx context.Context, id int64) (*domain.Agency, error) {
	c.agencyCalls++
	return c.MemoryStore.Agency(ctx, id)
}

func newLookups(t *testing.T, l2 L2) (*Lookups, *countingRepo) {
	t.Helper()
	mem := schedule.NewMemoryStore()
	require.NoError(t, mem.Import(context.Background(), &gtfs.Feed{
		Agencies: []domain.Agency{{ID: 1, Name: "MVG"}},
		Stops:    []domain.Stop{{ID: 100, Name: "Marienplatz"}, {ID: 101, Name: "Odeonsplatz"}},
	}, "fp"))
	repo := &countingRepo{MemoryStore: mem}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLookups(repo, topology.NewScheduleDirectory(repo), l2, time.Minute, logger), repo
}

func TestLookupsCacheHits(t *testing.T) {
	ctx := context.Background()
	l, repo := newLookups(t, nil)

	for i := 0; i < 3; i++ {
		a, err := l.Agency(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "MVG", a.Name)
	}
	assert.Equal(t, 1, repo.agencyCalls)
}

func TestLookupsNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	l, repo := newLookups(t, nil)

	_, err := l.Agency(ctx, 9)
	assert.ErrorIs(t, err, schedule.ErrNotFound)
	_, err = l.Agency(ctx, 9)
	assert.ErrorIs(t, err, schedule.ErrNotFound)
	assert.Equal(t, 2, repo.agencyCalls)

	_, err = l.Stop(ctx, 9)
	assert.ErrorIs(t, err, topology.ErrNotFound)
}

func TestLookupsFallBackToL2(t *testing.T) {
	ctx := context.Background()
	l2 := newMemoryL2()
	first, _ := newLookups(t, l2)

	stops, err := first.AllStops(ctx)
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Contains(t, l2.data, KeyStops)

	// a second process sharing the L2 does not hit its repository
	second, repo := newLookups(t, l2)
	_, err = first.Agency(ctx, 1)
	require.NoError(t, err)
	a, err := second.Agency(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "MVG", a.Name)
	assert.Equal(t, 0, repo.agencyCalls)
}

func TestWarmerPrimesStops(t *testing.T) {
	ctx := context.Background()
	l2 := newMemoryL2()
	l, _ := newLookups(t, l2)
	l2.data["agency:7"] = []byte(`{"agency_id":7}`)

	w := NewCacheWarmer(l, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, w.WarmAll(ctx))

	assert.NotContains(t, l2.data, "agency:7")
	// stop list plus one entry per stop
	assert.Equal(t, 3, l.ItemCount())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "agency:7", KeyAgency(7))
	assert.Equal(t, "stop:42", KeyStop(42))
}
