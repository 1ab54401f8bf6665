package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type stubRepo struct {
	rows   []TimelineRow
	offset int
	limit  int
	err    error
}

func (s *stubRepo) Window(_ context.Context, _ TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	s.offset, s.limit = offset, limit
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func rows(n int) []TimelineRow {
	out := make([]TimelineRow, n)
	for i := range out {
		out[i] = TimelineRow{Action: "journal.post", Entity: "journal_entry", EntityID: fmt.Sprint(i)}
	}
	return out
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: rows(25)}
	svc := NewService(repo)

	first, err := svc.Timeline(context.Background(), TimelineFilters{HotelID: uuid.New()})
	require.NoError(t, err)
	require.Len(t, first.Rows, defaultPageSize)
	require.Equal(t, defaultPageSize+1, repo.limit)
	require.True(t, first.Paging.HasNext)
	require.Equal(t, 2, first.Paging.NextPage)
	require.Zero(t, first.Paging.PrevPage)

	second, err := svc.Timeline(context.Background(), TimelineFilters{HotelID: uuid.New(), Page: 2})
	require.NoError(t, err)
	require.Len(t, second.Rows, 5)
	require.Equal(t, defaultPageSize, repo.offset)
	require.False(t, second.Paging.HasNext)
	require.Equal(t, 1, second.Paging.PrevPage)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	out, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 5000})
	require.NoError(t, err)
	require.Equal(t, maxPageSize+1, repo.limit)
	require.NotNil(t, out.Rows)
	require.Empty(t, out.Rows)
}

func TestTimelineRejectsInvertedRange(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	_, err := NewService(&stubRepo{}).Timeline(context.Background(), TimelineFilters{From: now, To: now.AddDate(0, 0, -1)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTimelinePropagatesRepositoryError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewService(&stubRepo{err: boom}).Timeline(context.Background(), TimelineFilters{})
	require.ErrorIs(t, err, boom)
}

func TestMemoryRepositoryFilters(t *testing.T) {
	ctx := context.Background()
	hotel, other := uuid.New(), uuid.New()
	trail := shared.NewMemoryAuditLog()
	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	record := func(h uuid.UUID, actor, action, entity, id string, at time.Time) {
		require.NoError(t, trail.Record(ctx, shared.AuditLog{
			ActorID: actor, HotelID: h.String(), Action: action, Entity: entity, EntityID: id, At: at,
		}))
	}
	record(hotel, "u1", "journal.post", "journal_entry", "j1", base)
	record(hotel, "u2", "settlement.create", "settlement", "s1", base.Add(time.Hour))
	record(hotel, "u1", "settlement.payment", "settlement", "s1", base.Add(2*time.Hour))
	record(other, "u1", "journal.post", "journal_entry", "j9", base)

	svc := NewService(NewMemoryRepository(trail))

	all, err := svc.Timeline(ctx, TimelineFilters{HotelID: hotel})
	require.NoError(t, err)
	require.Len(t, all.Rows, 3)
	require.Equal(t, "settlement.payment", all.Rows[0].Action, "newest first")

	byEntity, err := svc.Timeline(ctx, TimelineFilters{HotelID: hotel, Entity: "settlement", EntityID: "s1"})
	require.NoError(t, err)
	require.Len(t, byEntity.Rows, 2)

	byActor, err := svc.Timeline(ctx, TimelineFilters{HotelID: hotel, Actor: " u1 ", From: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, byActor.Rows, 1)
	require.Equal(t, "s1", byActor.Rows[0].EntityID)

	paged, err := svc.Timeline(ctx, TimelineFilters{HotelID: hotel, PageSize: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, paged.Rows, 1)
	require.Equal(t, "journal.post", paged.Rows[0].Action)
}
