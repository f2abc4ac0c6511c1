// Package snapshot keeps named copies of the room graph in a pluggable
// repository.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/automapper/internal/mapper"
	"github.com/cory-johannsen/automapper/internal/observability"
)

// ErrNotFound is returned when no snapshot has the requested name.
var ErrNotFound = errors.New("snapshot not found")

// ErrInvalidName is returned for an empty or whitespace-only snapshot name.
var ErrInvalidName = errors.New("invalid snapshot name")

// MaxNameLength is the longest snapshot name, in bytes, after trimming. It
// keeps encoded file names under common filesystem limits.
const MaxNameLength = 128

// cleanName trims name and checks it against ErrInvalidName rules.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidName, len(name), MaxNameLength)
	}
	return name, nil
}

// Metadata describes a stored snapshot.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RoomCount   int    `json:"room_count"`
	// UpdatedAt is the last save time in Unix seconds.
	UpdatedAt int64 `json:"updated_at"`
}

// Repository stores snapshot metadata alongside an opaque payload.
type Repository interface {
	// List returns the metadata of every stored snapshot in any order.
	List(ctx context.Context) ([]Metadata, error)
	// Save creates or replaces the snapshot named meta.Name.
	Save(ctx context.Context, meta Metadata, payload []byte) error
	// Load returns the payload of the named snapshot or ErrNotFound.
	Load(ctx context.Context, name string) ([]byte, error)
	// Delete removes the named snapshot. Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error
}

// payload is the stored form of a graph.
type payload struct {
	CurrentRoom string                 `json:"current_room"`
	Rooms       map[string]mapper.Room `json:"rooms"`
}

// Service saves and restores room graphs by name.
type Service struct {
	repo    Repository
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates a Service over repo.
//
// Precondition: repo and logger must be non-nil. metrics may be nil.
// Postcondition: Returns a ready Service.
func NewService(repo Repository, logger *zap.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// List returns every snapshot, most recently updated first and then by name.
// Repository failures are logged and yield an empty list.
func (s *Service) List(ctx context.Context) []Metadata {
	start := time.Now()
	metas, err := s.repo.List(ctx)
	s.observe("list", start, err)
	if err != nil {
		s.logger.Warn("listing snapshots", zap.Error(err))
		return []Metadata{}
	}
	sortMetadata(metas)
	if metas == nil {
		metas = []Metadata{}
	}
	return metas
}

// Save stores g under name, replacing any snapshot of the same name.
//
// Precondition: name must contain a non-space character and be at most
// MaxNameLength bytes once trimmed.
// Postcondition: Returns nil once the repository has accepted the snapshot,
// ErrInvalidName for a blank name, or the wrapped repository error.
func (s *Service) Save(ctx context.Context, name, description string, g mapper.Graph) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload{CurrentRoom: g.CurrentRoomID, Rooms: g.Rooms})
	if err != nil {
		return fmt.Errorf("encoding snapshot %q: %w", name, err)
	}
	meta := Metadata{
		Name:        name,
		Description: description,
		RoomCount:   len(g.Rooms),
		UpdatedAt:   s.now().Unix(),
	}

	start := time.Now()
	err = s.repo.Save(ctx, meta, data)
	s.observe("save", start, err)
	if err != nil {
		s.logger.Error("saving snapshot", zap.String("snapshot", name), zap.Error(err))
		return fmt.Errorf("saving snapshot %q: %w", name, err)
	}
	if s.metrics != nil {
		s.metrics.SnapshotRooms.Set(float64(meta.RoomCount))
	}
	s.logger.Info("snapshot saved",
		zap.String("snapshot", name),
		zap.Int("rooms", meta.RoomCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Load restores the graph saved under name.
//
// Postcondition: Returns the graph, ErrInvalidName for a blank name,
// ErrNotFound when nothing is stored under name, or a wrapped error.
func (s *Service) Load(ctx context.Context, name string) (mapper.Graph, error) {
	name, err := cleanName(name)
	if err != nil {
		return mapper.Graph{}, err
	}

	start := time.Now()
	data, err := s.repo.Load(ctx, name)
	s.observe("load", start, err)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("snapshot not found", zap.String("snapshot", name))
			return mapper.Graph{}, ErrNotFound
		}
		s.logger.Error("loading snapshot", zap.String("snapshot", name), zap.Error(err))
		return mapper.Graph{}, fmt.Errorf("loading snapshot %q: %w", name, err)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Error("decoding snapshot", zap.String("snapshot", name), zap.Error(err))
		return mapper.Graph{}, fmt.Errorf("decoding snapshot %q: %w", name, err)
	}
	g := mapper.NewGraph()
	g.CurrentRoomID = p.CurrentRoom
	for id, r := range p.Rooms {
		if r.Exits == nil {
			r.Exits = make(map[mapper.Direction]mapper.Exit)
		}
		g.Rooms[id] = r
	}
	if s.metrics != nil {
		s.metrics.SnapshotRooms.Set(float64(len(g.Rooms)))
	}
	s.logger.Info("snapshot loaded",
		zap.String("snapshot", name),
		zap.Int("rooms", len(g.Rooms)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return g, nil
}

// Delete removes the snapshot saved under name. Deleting a name that does
// not exist succeeds.
//
// Postcondition: Returns ErrInvalidName for a blank name or the wrapped
// repository error.
func (s *Service) Delete(ctx context.Context, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.repo.Delete(ctx, name)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.observe("delete", start, err)
	if err != nil {
		s.logger.Error("deleting snapshot", zap.String("snapshot", name), zap.Error(err))
		return fmt.Errorf("deleting snapshot %q: %w", name, err)
	}
	s.logger.Info("snapshot deleted", zap.String("snapshot", name))
	return nil
}

func (s *Service) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	s.metrics.SnapshotOperations.WithLabelValues(op, result).Inc()
	s.metrics.SnapshotDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func sortMetadata(metas []Metadata) {
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].UpdatedAt != metas[j].UpdatedAt {
			return metas[i].UpdatedAt > metas[j].UpdatedAt
		}
		return metas[i].Name < metas[j].Name
	})
}
