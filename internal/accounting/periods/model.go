// Package periods derives fiscal years and periods and guards postings
// against closed or locked periods.
package periods

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// ErrInvalidTransition rejects a status change the table below does not allow.
var ErrInvalidTransition = shared.NewError(shared.KindState, "period.transition_invalid", "period transition invalid")

// transitions lists allowed moves; the flag marks moves reserved to admins.
var transitions = map[PeriodStatus]map[PeriodStatus]bool{
	PeriodStatusOpen:   {PeriodStatusClosed: false, PeriodStatusLocked: false},
	PeriodStatusClosed: {PeriodStatusOpen: false, PeriodStatusLocked: false},
	PeriodStatusLocked: {PeriodStatusClosed: true},
}

// CanTransition reports whether a period may move from one status to another.
func CanTransition(from, to PeriodStatus, admin bool) bool {
	if from == to {
		return true
	}
	adminOnly, ok := transitions[from][to]
	return ok && (!adminOnly || admin)
}

// Period represents a fiscal period window. Periods without a stored row are open.
type Period struct {
	HotelID      uuid.UUID    `json:"hotel_id"`
	FiscalYear   int          `json:"fiscal_year"`
	FiscalPeriod int          `json:"fiscal_period"`
	Code         string       `json:"code"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	Status       PeriodStatus `json:"status"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
	ChangedBy    string       `json:"changed_by,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Calendar maps dates to fiscal years of twelve monthly periods. A fiscal
// year is labelled by the calendar year it starts in.
type Calendar struct {
	StartMonth time.Month
}

// NewCalendar validates the start month.
func NewCalendar(startMonth int) (Calendar, error) {
	if startMonth < 1 || startMonth > 12 {
		return Calendar{}, fmt.Errorf("periods: fiscal start month %d out of range", startMonth)
	}
	return Calendar{StartMonth: time.Month(startMonth)}, nil
}

func (c Calendar) start() time.Month {
	if c.StartMonth == 0 {
		return time.January
	}
	return c.StartMonth
}

// Locate returns the fiscal year and period (1..12) containing date.
func (c Calendar) Locate(date time.Time) (year, period int) {
	date = clock.Date(date)
	offset := int(date.Month()) - int(c.start())
	year = date.Year()
	if offset < 0 {
		offset += 12
		year--
	}
	return year, offset + 1
}

// Bounds returns the first and last day of a fiscal period.
func (c Calendar) Bounds(year, period int) (time.Time, time.Time) {
	start := time.Date(year, c.start()+time.Month(period-1), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// YearBounds returns the first and last day of a fiscal year.
func (c Calendar) YearBounds(year int) (time.Time, time.Time) {
	start, _ := c.Bounds(year, 1)
	_, end := c.Bounds(year, 12)
	return start, end
}

// Code renders a period as FY2026-P01.
func Code(year, period int) string {
	return fmt.Sprintf("FY%d-P%02d", year, period)
}

func (c Calendar) period(hotelID uuid.UUID, year, period int) Period {
	start, end := c.Bounds(year, period)
	return Period{
		HotelID:      hotelID,
		FiscalYear:   year,
		FiscalPeriod: period,
		Code:         Code(year, period),
		StartDate:    start,
		EndDate:      end,
		Status:       PeriodStatusOpen,
	}
}
