package periods

import (
	"context"
	"time"

	"github.com/google/uuid"

	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type Service struct {
	repo     Repository
	calendar Calendar
	audit    AuditPort
	clock    clock.Clock
}

func NewService(repo Repository, calendar Calendar, audit AuditPort, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{repo: repo, calendar: calendar, audit: audit, clock: clk}
}

// Calendar exposes the fiscal calendar.
func (s *Service) Calendar() Calendar { return s.calendar }

// Locate returns the fiscal year and period containing date.
func (s *Service) Locate(date time.Time) (int, int) { return s.calendar.Locate(date) }

// Get returns the effective state of one period.
func (s *Service) Get(ctx context.Context, hotelID uuid.UUID, year, period int) (Period, error) {
	if period < 1 || period > 12 || year < 1900 {
		return Period{}, acct.ErrInvalidPeriod.WithMessage("fiscal period %d/%d is invalid", year, period)
	}
	stored, found, err := s.repo.Find(ctx, hotelID, year, period)
	if err != nil {
		return Period{}, err
	}
	if found {
		return stored, nil
	}
	return s.calendar.period(hotelID, year, period), nil
}

// Guard locates date and fails when its period refuses postings. Closed
// periods still accept adjusting and closing entries; locked periods accept nothing.
func (s *Service) Guard(ctx context.Context, hotelID uuid.UUID, date time.Time, allowClosed bool) (int, int, error) {
	year, period := s.calendar.Locate(date)
	p, err := s.Get(ctx, hotelID, year, period)
	if err != nil {
		return 0, 0, err
	}
	switch p.Status {
	case PeriodStatusLocked:
		return 0, 0, acct.ErrPeriodLocked.WithMessage("period %s is locked", p.Code)
	case PeriodStatusClosed:
		if !allowClosed {
			return 0, 0, acct.ErrPeriodClosed.WithMessage("period %s is closed", p.Code)
		}
	}
	return year, period, nil
}

// Close moves an open period to CLOSED.
func (s *Service) Close(ctx context.Context, user shared.UserContext, hotelID uuid.UUID, year, period int) (Period, error) {
	return s.transition(ctx, user, hotelID, year, period, PeriodStatusClosed)
}

// Lock freezes a period permanently unless an admin reopens it.
func (s *Service) Lock(ctx context.Context, user shared.UserContext, hotelID uuid.UUID, year, period int) (Period, error) {
	return s.transition(ctx, user, hotelID, year, period, PeriodStatusLocked)
}

// Reopen steps a period back one state: LOCKED to CLOSED (admin only), CLOSED to OPEN.
func (s *Service) Reopen(ctx context.Context, user shared.UserContext, hotelID uuid.UUID, year, period int) (Period, error) {
	p, err := s.Get(ctx, hotelID, year, period)
	if err != nil {
		return Period{}, err
	}
	target := PeriodStatusOpen
	if p.Status == PeriodStatusLocked {
		target = PeriodStatusClosed
	}
	return s.transition(ctx, user, hotelID, year, period, target)
}

// ListYear returns all twelve periods of a fiscal year with their effective status.
func (s *Service) ListYear(ctx context.Context, hotelID uuid.UUID, year int) ([]Period, error) {
	stored, err := s.repo.ListYear(ctx, hotelID, year)
	if err != nil {
		return nil, err
	}
	byPeriod := make(map[int]Period, len(stored))
	for _, p := range stored {
		byPeriod[p.FiscalPeriod] = p
	}
	out := make([]Period, 0, 12)
	for i := 1; i <= 12; i++ {
		if p, ok := byPeriod[i]; ok {
			out = append(out, p)
			continue
		}
		out = append(out, s.calendar.period(hotelID, year, i))
	}
	return out, nil
}

func (s *Service) transition(ctx context.Context, user shared.UserContext, hotelID uuid.UUID, year, period int, target PeriodStatus) (Period, error) {
	if !user.IsApprover() {
		return Period{}, shared.NotAuthorized("role %s may not change period status", user.Role)
	}
	p, err := s.Get(ctx, hotelID, year, period)
	if err != nil {
		return Period{}, err
	}
	if !CanTransition(p.Status, target, user.HasRole(shared.RoleAdmin)) {
		return Period{}, ErrInvalidTransition.WithMessage("period %s cannot move from %s to %s", p.Code, p.Status, target)
	}
	now := s.clock.Now()
	from := p.Status
	p.Status = target
	p.ChangedBy = user.Actor()
	p.UpdatedAt = now
	switch target {
	case PeriodStatusOpen:
		p.ClosedAt = nil
	case PeriodStatusClosed, PeriodStatusLocked:
		if p.ClosedAt == nil {
			p.ClosedAt = &now
		}
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return Period{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  user.Actor(),
			HotelID:  hotelID.String(),
			Action:   "periods.transition",
			Entity:   "period",
			EntityID: p.Code,
			Meta:     map[string]any{"from": from, "to": target},
			At:       now,
		})
	}
	return p, nil
}
