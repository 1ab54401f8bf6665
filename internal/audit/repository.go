package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// PostgresRepository reads audit_logs.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	add("hotel_id = $%d", f.HotelID)
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}
	if f.Actor != "" {
		add("actor_id = $%d", f.Actor)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	args = append(args, limit, offset)
	query := `SELECT occurred_at, actor_id, action, entity, entity_id, meta FROM audit_logs WHERE ` +
		strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			out  TimelineRow
			meta []byte
		)
		if err := row.Scan(&out.At, &out.Actor, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return out, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return out, err
			}
		}
		return out, nil
	})
}

// MemoryRepository serves the in-memory audit trail.
type MemoryRepository struct {
	log *shared.MemoryAuditLog
}

func NewMemoryRepository(log *shared.MemoryAuditLog) *MemoryRepository {
	return &MemoryRepository{log: log}
}

func (r *MemoryRepository) Window(_ context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	hotel := f.HotelID.String()
	var matched []TimelineRow
	for _, l := range r.log.Entries(f.Action) {
		switch {
		case l.HotelID != hotel,
			!f.From.IsZero() && l.At.Before(f.From),
			!f.To.IsZero() && l.At.After(f.To),
			f.Actor != "" && l.ActorID != f.Actor,
			f.Entity != "" && l.Entity != f.Entity,
			f.EntityID != "" && l.EntityID != f.EntityID:
			continue
		}
		matched = append(matched, TimelineRow{At: l.At, Actor: l.ActorID, Action: l.Action, Entity: l.Entity, EntityID: l.EntityID, Meta: l.Meta})
	}
	// Entries are in insertion order; reverse then stable-sort by time.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].At.After(matched[j].At) })
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}
