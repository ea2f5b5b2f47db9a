package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trafficlens/trafficlens/internal/bus"
	"github.com/trafficlens/trafficlens/internal/database"
	"github.com/trafficlens/trafficlens/internal/geometry"
)

// ErrNotFound is returned when a passage event id does not exist.
var ErrNotFound = errors.New("passage event not found")

// Service persists passage events and fans them out to in-process
// subscribers and the event bus.
type Service struct {
	db          *database.DB
	bus         *bus.EventBus
	logger      *slog.Logger
	subscribers []chan *PassageEvent
	mu          sync.RWMutex
}

// NewService creates a new passage event service. The bus may be nil in
// tests; publication is skipped.
func NewService(db *database.DB, eb *bus.EventBus) *Service {
	return &Service{
		db:     db,
		bus:    eb,
		logger: slog.Default().With("component", "event_service"),
	}
}

// Subscribe returns a channel that receives new passage events.
func (s *Service) Subscribe() chan *PassageEvent {
	ch := make(chan *PassageEvent, 100)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription.
func (s *Service) Unsubscribe(ch chan *PassageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Create persists a passage event and notifies subscribers.
func (s *Service) Create(ctx context.Context, ev *PassageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	bboxJSON, err := json.Marshal(ev.BBox)
	if err != nil {
		return fmt.Errorf("failed to marshal bbox: %w", err)
	}

	var sourceMeta []byte
	if ev.SourceMeta != nil {
		sourceMeta = ev.SourceMeta
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO passage_events (
			id, ts, side, lane, direction, vehicle_type, color,
			make_model, make_model_conf, snapshot_path, plate_number,
			plate_snapshot_path, bbox, track_id, source_meta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID, ev.TS.Unix(), ev.Side, ev.Lane, ev.Direction, ev.VehicleType, ev.Color,
		ev.MakeModel, ev.MakeModelConf, ev.SnapshotPath, ev.PlateNumber,
		ev.PlateSnapshotPath, string(bboxJSON), ev.TrackID, sourceMeta, ev.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create passage event: %w", err)
	}

	s.notifySubscribers(ev)

	if s.bus != nil {
		if err := s.bus.Publish(bus.SubjectPassageEvent, ev); err != nil {
			s.logger.Warn("Failed to publish passage event", "id", ev.ID, "error", err)
		}
	}

	s.logger.Info("Passage event created",
		"id", ev.ID, "track_id", ev.TrackID, "side", ev.Side, "lane", ev.Lane, "type", ev.VehicleType)
	return nil
}

func (s *Service) notifySubscribers(ev *PassageEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("Subscriber channel full, dropping event", "id", ev.ID)
		}
	}
}

// Get retrieves a passage event by ID.
func (s *Service) Get(ctx context.Context, id string) (*PassageEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, side, lane, direction, vehicle_type, color,
		       make_model, make_model_conf, snapshot_path, plate_number,
		       plate_snapshot_path, bbox, track_id, source_meta, created_at
		FROM passage_events WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ev, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*PassageEvent, error) {
	ev := &PassageEvent{}
	var ts, createdAt int64
	var color, makeModel, snapshotPath, plateNumber, plateSnapshotPath sql.NullString
	var makeModelConf sql.NullFloat64
	var bboxJSON string
	var sourceMeta sql.NullString

	err := row.Scan(
		&ev.ID, &ts, &ev.Side, &ev.Lane, &ev.Direction, &ev.VehicleType, &color,
		&makeModel, &makeModelConf, &snapshotPath, &plateNumber,
		&plateSnapshotPath, &bboxJSON, &ev.TrackID, &sourceMeta, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	ev.TS = time.Unix(ts, 0).UTC()
	ev.CreatedAt = time.Unix(createdAt, 0).UTC()
	if color.Valid {
		ev.Color = color.String
	}
	if makeModel.Valid {
		ev.MakeModel = makeModel.String
	}
	if makeModelConf.Valid {
		ev.MakeModelConf = makeModelConf.Float64
	}
	if snapshotPath.Valid {
		ev.SnapshotPath = snapshotPath.String
	}
	if plateNumber.Valid {
		ev.PlateNumber = plateNumber.String
	}
	if plateSnapshotPath.Valid {
		ev.PlateSnapshotPath = plateSnapshotPath.String
	}
	if sourceMeta.Valid && sourceMeta.String != "" {
		ev.SourceMeta = json.RawMessage(sourceMeta.String)
	}

	var box geometry.Box
	if err := json.Unmarshal([]byte(bboxJSON), &box); err == nil {
		ev.BBox = box
	}

	return ev, nil
}

// List retrieves passage events with filters, newest first, together with
// the total count matching the filters.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*PassageEvent, int, error) {
	query := `SELECT id, ts, side, lane, direction, vehicle_type, color,
	                 make_model, make_model_conf, snapshot_path, plate_number,
	                 plate_snapshot_path, bbox, track_id, source_meta, created_at
	          FROM passage_events WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM passage_events WHERE 1=1`
	args := []interface{}{}

	if opts.Side != "" {
		query += " AND side = ?"
		countQuery += " AND side = ?"
		args = append(args, opts.Side)
	}
	if opts.Lane != 0 {
		query += " AND lane = ?"
		countQuery += " AND lane = ?"
		args = append(args, opts.Lane)
	}
	if opts.VehicleType != "" {
		query += " AND vehicle_type = ?"
		countQuery += " AND vehicle_type = ?"
		args = append(args, opts.VehicleType)
	}
	if !opts.StartTime.IsZero() {
		query += " AND ts >= ?"
		countQuery += " AND ts >= ?"
		args = append(args, opts.StartTime.Unix())
	}
	if !opts.EndTime.IsZero() {
		query += " AND ts <= ?"
		countQuery += " AND ts <= ?"
		args = append(args, opts.EndTime.Unix())
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count passage events: %w", err)
	}

	query += " ORDER BY ts DESC"
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list passage events: %w", err)
	}
	defer rows.Close()

	var events []*PassageEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}

	return events, total, rows.Err()
}

// DeleteOlderThan removes passage events recorded before cutoff. Returns
// the number of deleted rows and the snapshot paths they referenced, so
// the caller can remove the files.
func (s *Service) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, []string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_path, plate_snapshot_path
		FROM passage_events WHERE ts < ?
	`, cutoff.Unix())
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query expired events: %w", err)
	}

	var paths []string
	for rows.Next() {
		var snapshotPath, platePath sql.NullString
		if err := rows.Scan(&snapshotPath, &platePath); err != nil {
			rows.Close()
			return 0, nil, err
		}
		if snapshotPath.String != "" {
			paths = append(paths, snapshotPath.String)
		}
		if platePath.String != "" {
			paths = append(paths, platePath.String)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, nil, err
	}
	rows.Close()

	res, err := s.db.ExecContext(ctx, `DELETE FROM passage_events WHERE ts < ?`, cutoff.Unix())
	if err != nil {
		return 0, nil, fmt.Errorf("failed to delete expired events: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		s.logger.Info("Expired passage events deleted", "count", deleted, "cutoff", cutoff.UTC())
	}

	return deleted, paths, nil
}

// Stats aggregates passage counts since the given time.
func (s *Service) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{
		BySide:  make(map[string]int),
		ByLane:  make(map[int]int),
		ByClass: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT side, lane, vehicle_type, COUNT(*)
		FROM passage_events
		WHERE ts >= ?
		GROUP BY side, lane, vehicle_type
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var side, class string
		var lane, count int
		if err := rows.Scan(&side, &lane, &class, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.BySide[side] += count
		stats.ByLane[lane] += count
		stats.ByClass[class] += count
	}

	return stats, rows.Err()
}
