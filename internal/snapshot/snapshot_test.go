package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/automapper/internal/mapper"
	"github.com/cory-johannsen/automapper/internal/observability"
)

// memRepository is an in-memory Repository.
type memRepository struct {
	mu      sync.Mutex
	metas   map[string]Metadata
	data    map[string][]byte
	listErr error
	saveErr error
}

func newMemRepository() *memRepository {
	return &memRepository{metas: make(map[string]Metadata), data: make(map[string][]byte)}
}

func (m *memRepository) List(_ context.Context) ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]Metadata, 0, len(m.metas))
	for _, meta := range m.metas {
		out = append(out, meta)
	}
	return out, nil
}

func (m *memRepository) Save(_ context.Context, meta Metadata, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.metas[meta.Name] = meta
	m.data[meta.Name] = append([]byte(nil), payload...)
	return nil
}

func (m *memRepository) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[name]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *memRepository) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metas, name)
	delete(m.data, name)
	return nil
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T, repo Repository) (*Service, *clock, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics()
	svc := NewService(repo, zaptest.NewLogger(t), m)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	svc.now = c.now
	return svc, c, m
}

func testGraph() mapper.Graph {
	s := mapper.NewStore()
	s.CreateRoom("1", "Gate", 0, 0, 0)
	s.AddUnexploredExits("1", []mapper.Direction{mapper.North, mapper.Up})
	s.SetCurrentRoom("1")
	s.HandleMovement(mapper.North, "Square", []mapper.Direction{mapper.South}, "2")
	s.SetRoomTags("2", []string{"shop"})
	s.SetRoomColor("2", "#00ff00")
	s.SetRoomNote("1", "guards")
	return s.Snapshot()
}

func TestService_SaveLoadRoundTrip(t *testing.T) {
	services := map[string]Repository{"memory": newMemRepository()}
	fileRepo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)
	services["file"] = fileRepo

	for name, repo := range services {
		t.Run(name, func(t *testing.T) {
			svc, _, _ := newTestService(t, repo)
			ctx := context.Background()
			g := testGraph()

			require.NoError(t, svc.Save(ctx, "town", "starter town", g))
			got, err := svc.Load(ctx, "town")
			require.NoError(t, err)
			assert.Equal(t, g, got)

			list := svc.List(ctx)
			require.Len(t, list, 1)
			assert.Equal(t, Metadata{Name: "town", Description: "starter town", RoomCount: 2, UpdatedAt: 1_700_000_000}, list[0])
		})
	}
}

func TestService_SaveOverwrites(t *testing.T) {
	svc, c, _ := newTestService(t, newMemRepository())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "m", "first", testGraph()))
	c.t = c.t.Add(time.Minute)
	require.NoError(t, svc.Save(ctx, "m", "second", mapper.NewGraph()))

	list := svc.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "second", list[0].Description)
	assert.Equal(t, 0, list[0].RoomCount)
	assert.Equal(t, c.t.Unix(), list[0].UpdatedAt)

	got, err := svc.Load(ctx, "m")
	require.NoError(t, err)
	assert.Empty(t, got.Rooms)
	assert.NotNil(t, got.Rooms)
}

func TestService_ListOrder(t *testing.T) {
	svc, c, _ := newTestService(t, newMemRepository())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "b", "", mapper.NewGraph()))
	require.NoError(t, svc.Save(ctx, "a", "", mapper.NewGraph()))
	c.t = c.t.Add(time.Hour)
	require.NoError(t, svc.Save(ctx, "c", "", mapper.NewGraph()))

	var names []string
	for _, m := range svc.List(ctx) {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestService_ListEmptyAndFailing(t *testing.T) {
	repo := newMemRepository()
	core, logs := observer.New(zap.WarnLevel)
	svc := NewService(repo, zap.New(core), nil)

	list := svc.List(context.Background())
	assert.NotNil(t, list)
	assert.Empty(t, list)

	repo.listErr = errors.New("disk on fire")
	list = svc.List(context.Background())
	assert.NotNil(t, list)
	assert.Empty(t, list)
	assert.Equal(t, 1, logs.FilterMessage("listing snapshots").Len())
}

func TestService_LoadMissing(t *testing.T) {
	svc, _, m := newTestService(t, newMemRepository())
	_, err := svc.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotOperations.WithLabelValues("load", "not_found")))
}

func TestService_DeleteIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, newMemRepository())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "x", "", testGraph()))
	require.NoError(t, svc.Delete(ctx, "x"))
	require.NoError(t, svc.Delete(ctx, "x"))
	_, err := svc.Load(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, svc.List(ctx))
}

func TestService_InvalidNames(t *testing.T) {
	svc, _, _ := newTestService(t, newMemRepository())
	ctx := context.Background()

	for _, name := range []string{"", "   ", "\t\n"} {
		assert.ErrorIs(t, svc.Save(ctx, name, "", testGraph()), ErrInvalidName)
		_, err := svc.Load(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidName)
		assert.ErrorIs(t, svc.Delete(ctx, name), ErrInvalidName)
	}
}

func TestService_NameLengthLimit(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)
	svc, _, _ := newTestService(t, repo)
	ctx := context.Background()

	longest := strings.Repeat("é", MaxNameLength/2)
	require.NoError(t, svc.Save(ctx, longest, "", testGraph()))
	_, err = svc.Load(ctx, longest)
	require.NoError(t, err)

	tooLong := longest + "x"
	err = svc.Save(ctx, tooLong, "", testGraph())
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorContains(t, err, "byte limit")
	_, err = svc.Load(ctx, tooLong)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, svc.Delete(ctx, tooLong), ErrInvalidName)

	require.NoError(t, svc.Save(ctx, "  "+longest+"  ", "", testGraph()), "limit applies after trimming")
}

func TestService_NamesAreTrimmed(t *testing.T) {
	svc, _, _ := newTestService(t, newMemRepository())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "  town ", "", testGraph()))
	_, err := svc.Load(ctx, "town")
	require.NoError(t, err)
	assert.Equal(t, "town", svc.List(ctx)[0].Name)
}

func TestService_SaveErrorWrapped(t *testing.T) {
	repo := newMemRepository()
	repo.saveErr = errors.New("read-only")
	svc, _, m := newTestService(t, repo)

	err := svc.Save(context.Background(), "x", "", testGraph())
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.saveErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotOperations.WithLabelValues("save", "error")))
}

func TestService_MetricsRecorded(t *testing.T) {
	svc, _, m := newTestService(t, newMemRepository())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "x", "", testGraph()))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotRooms))
	_, err := svc.Load(ctx, "x")
	require.NoError(t, err)
	svc.List(ctx)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotOperations.WithLabelValues("save", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotOperations.WithLabelValues("load", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotOperations.WithLabelValues("list", "ok")))
}

func TestService_LoadCorruptPayload(t *testing.T) {
	repo := newMemRepository()
	svc, _, _ := newTestService(t, repo)
	repo.metas["bad"] = Metadata{Name: "bad"}
	repo.data["bad"] = []byte("{not json")

	_, err := svc.Load(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// Property: List is always sorted by UpdatedAt descending, then by name.
func TestPropertyListSorted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		repo := newMemRepository()
		n := rapid.IntRange(0, 20).Draw(t, "n")
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("snap-%d", i)
			repo.metas[name] = Metadata{Name: name, UpdatedAt: rapid.Int64Range(0, 5).Draw(t, "updated")}
		}
		svc := NewService(repo, zap.NewNop(), nil)
		list := svc.List(context.Background())
		if len(list) != n {
			t.Fatalf("got %d entries, want %d", len(list), n)
		}
		for i := 1; i < len(list); i++ {
			a, b := list[i-1], list[i]
			if a.UpdatedAt < b.UpdatedAt || (a.UpdatedAt == b.UpdatedAt && a.Name > b.Name) {
				t.Fatalf("entries %d and %d out of order: %+v %+v", i-1, i, a, b)
			}
		}
	})
}
