package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const positionSelectCols = `p.id, p.signal_id, p.remaining_risk, p.hit_targets, p.status,
	p.opened_at, p.closed_price, p.closed_at,
	s.pair, s.category, s.direction, s.entry, s.stop, s.live, s.created_at`

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var status, category, direction string
		var hitTargets []int32

		if err := rows.Scan(
			&p.ID, &p.SignalID, &p.RemainingRisk, &hitTargets, &status,
			&p.OpenedAt, &p.ClosedPrice, &p.ClosedAt,
			&p.Signal.Pair, &category, &direction,
			&p.Signal.Entry, &p.Signal.Stop, &p.Signal.Live, &p.Signal.CreatedAt,
		); err != nil {
			return nil, err
		}
		p.Status = domain.PositionStatus(status)
		p.Signal.ID = p.SignalID
		p.Signal.Category = domain.Category(category)
		p.Signal.Direction = domain.Direction(direction)
		p.HitTargets = make([]int, 0, len(hitTargets))
		for _, h := range hitTargets {
			p.HitTargets = append(p.HitTargets, int(h))
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// loadTargets attaches the ordered take-profit targets of each signal to the
// given positions.
func (s *SignalStore) loadTargets(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	ids := make([]string, 0, len(positions))
	seen := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.SignalID]; !ok {
			seen[p.SignalID] = struct{}{}
			ids = append(ids, p.SignalID)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT signal_id, price, close_percent FROM signal_targets
		 WHERE signal_id = ANY($1::uuid[]) ORDER BY signal_id, idx`, ids)
	if err != nil {
		return fmt.Errorf("postgres: get signal targets: %w", err)
	}
	defer rows.Close()

	targets := make(map[string][]domain.TakeProfit, len(ids))
	for rows.Next() {
		var signalID string
		var tp domain.TakeProfit
		if err := rows.Scan(&signalID, &tp.Price, &tp.ClosePercent); err != nil {
			return fmt.Errorf("postgres: scan signal target: %w", err)
		}
		targets[signalID] = append(targets[signalID], tp)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: read signal targets: %w", err)
	}

	for i := range positions {
		positions[i].Signal.Targets = targets[positions[i].SignalID]
	}
	return nil
}

// ListActiveLive returns all active positions on live-mode signals, each
// joined with its signal configuration and targets.
func (s *SignalStore) ListActiveLive(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+`
		 FROM positions p
		 JOIN signals s ON s.id = p.signal_id
		 WHERE p.status = 'active' AND s.live
		 ORDER BY p.opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	if err := s.loadTargets(ctx, positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetPosition retrieves one position with its signal and targets.
func (s *SignalStore) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+`
		 FROM positions p
		 JOIN signals s ON s.id = p.signal_id
		 WHERE p.id = $1`, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: scan position %s: %w", id, err)
	}
	if len(positions) == 0 {
		return domain.Position{}, domain.ErrNotFound
	}
	if err := s.loadTargets(ctx, positions); err != nil {
		return domain.Position{}, err
	}
	return positions[0], nil
}

// CreatePosition opens a new position row for a signal.
func (s *SignalStore) CreatePosition(ctx context.Context, p domain.Position) error {
	hitTargets := make([]int32, 0, len(p.HitTargets))
	for _, h := range p.HitTargets {
		hitTargets = append(hitTargets, int32(h))
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (
			id, signal_id, remaining_risk, hit_targets, status,
			opened_at, closed_price, closed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		p.ID, p.SignalID, p.RemainingRisk, hitTargets, string(p.Status),
		p.OpenedAt, p.ClosedPrice, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// ApplyTransition atomically commits a position state transition. The update
// is guarded by the active-status and expected-risk precondition; zero rows
// affected means another pass already applied a transition, reported as
// (false, nil) so repeated evaluation stays idempotent.
func (s *SignalStore) ApplyTransition(ctx context.Context, tr domain.PositionTransition) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin transition %s: %w", tr.PositionID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE positions SET
			remaining_risk = $2,
			status         = $3,
			updated_at     = NOW()`
	args := []any{tr.PositionID, tr.NewRisk, string(tr.Status)}
	argIdx := 4

	if tr.HitTarget >= 0 {
		query += fmt.Sprintf(", hit_targets = hit_targets || $%d::int", argIdx)
		args = append(args, int32(tr.HitTarget))
		argIdx++
	}
	if tr.Status.Terminal() {
		query += fmt.Sprintf(", closed_price = $%d, closed_at = $%d", argIdx, argIdx+1)
		args = append(args, tr.Price, tr.At)
		argIdx += 2
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = 'active' AND remaining_risk = $%d", argIdx)
	args = append(args, tr.ExpectedRisk)
	if tr.HitTarget >= 0 {
		query += fmt.Sprintf(" AND NOT (hit_targets @> ARRAY[$%d::int])", argIdx+1)
		args = append(args, int32(tr.HitTarget))
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("postgres: apply transition %s: %w", tr.PositionID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit transition %s: %w", tr.PositionID, err)
	}
	return true, nil
}

// IsNotFound reports whether err is the store's no-rows condition.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
