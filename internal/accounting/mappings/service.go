package mappings

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// AccountLookup is the slice of the chart of accounts the resolver needs.
type AccountLookup interface {
	GetByCode(ctx context.Context, hotelID uuid.UUID, code string) (accounts.Account, error)
}

// Service resolves and maintains account mappings.
type Service struct {
	repo     Repository
	accounts AccountLookup
	clock    clock.Clock
}

func NewService(repo Repository, lookup AccountLookup, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{repo: repo, accounts: lookup, clock: clk}
}

// Resolve returns the active account bound to (module, key) for a hotel,
// falling back to DefaultCodes.
func (s *Service) Resolve(ctx context.Context, hotelID uuid.UUID, module, key string) (accounts.Account, error) {
	module, key = normalize(module), normalize(key)
	code := ""
	m, err := s.repo.Get(ctx, hotelID, module, key)
	switch {
	case err == nil:
		code = m.AccountCode
	case errors.Is(err, acct.ErrMappingNotFound):
		def, ok := DefaultCodes[key]
		if !ok {
			return accounts.Account{}, acct.ErrMappingNotFound.WithMessage("no account mapped for %s/%s", module, key)
		}
		code = def
	default:
		return accounts.Account{}, err
	}
	a, err := s.accounts.GetByCode(ctx, hotelID, code)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return accounts.Account{}, acct.ErrMappingNotFound.WithMessage("mapping %s/%s points to missing account %s", module, key, code)
		}
		return accounts.Account{}, err
	}
	if !a.IsActive {
		return accounts.Account{}, accounts.ErrAccountInactive.WithMessage("mapped account %s is inactive", code)
	}
	return a, nil
}

// Set binds (module, key) to an existing account code.
func (s *Service) Set(ctx context.Context, hotelID uuid.UUID, module, key, code string) (AccountMapping, error) {
	module, key = normalize(module), normalize(key)
	if module == "" || key == "" {
		return AccountMapping{}, shared.Validation("mapping.invalid", "module and key required")
	}
	if _, err := s.accounts.GetByCode(ctx, hotelID, code); err != nil {
		return AccountMapping{}, err
	}
	m := AccountMapping{HotelID: hotelID, Module: module, Key: key, AccountCode: code, UpdatedAt: s.clock.Now()}
	if err := s.repo.Upsert(ctx, m); err != nil {
		return AccountMapping{}, err
	}
	return m, nil
}

// List returns the explicit overrides of a hotel.
func (s *Service) List(ctx context.Context, hotelID uuid.UUID) ([]AccountMapping, error) {
	return s.repo.List(ctx, hotelID)
}

func normalize(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
