package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// AuditPort records mutating operations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the chart of accounts.
type Service struct {
	repo  Repository
	tx    shared.Transactor
	audit AuditPort
	clock clock.Clock
	base  money.Currency
}

// NewService wires the chart of accounts service.
func NewService(repo Repository, tx shared.Transactor, audit AuditPort, clk clock.Clock, base money.Currency) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{repo: repo, tx: tx, audit: audit, clock: clk, base: base}
}

// CreateInput carries the fields of a new account.
type CreateInput struct {
	HotelID  uuid.UUID
	Code     string
	Name     string
	Kind     Kind
	SubType  SubType
	ParentID *uuid.UUID
	Currency money.Currency
}

// UpdateInput carries the mutable fields; nil leaves a field untouched.
type UpdateInput struct {
	Name        *string
	SubType     *SubType
	ParentID    *uuid.UUID
	ClearParent bool
	IsActive    *bool
}

// Create validates and stores a new active account with a zero balance.
func (s *Service) Create(ctx context.Context, user shared.UserContext, in CreateInput) (Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.HotelID == uuid.Nil {
		return Account{}, ErrInvalidAccount.WithMessage("hotel is required")
	}
	if !in.Kind.Valid() {
		return Account{}, ErrInvalidAccount.WithMessage("unknown account kind %q", in.Kind)
	}
	if err := validateCode(in.Code, in.Kind); err != nil {
		return Account{}, err
	}
	if in.Name == "" {
		return Account{}, ErrInvalidAccount.WithMessage("account name is required")
	}
	if in.SubType == "" {
		in.SubType = in.Kind.DefaultSubType()
	}
	if !in.Kind.Allows(in.SubType) {
		return Account{}, ErrInvalidAccount.WithMessage("sub type %s is not valid for %s", in.SubType, in.Kind)
	}
	if in.Currency == "" {
		in.Currency = s.base
	}
	if _, err := money.ParseCurrency(string(in.Currency)); err != nil {
		return Account{}, ErrInvalidAccount.WithMessage("invalid currency %q", in.Currency)
	}

	now := s.clock.Now()
	acc := Account{
		ID:             uuid.New(),
		HotelID:        in.HotelID,
		Code:           in.Code,
		Name:           in.Name,
		Kind:           in.Kind,
		SubType:        in.SubType,
		NormalSide:     in.Kind.NormalSide(),
		ParentID:       in.ParentID,
		IsActive:       true,
		Currency:       in.Currency,
		CurrentBalance: money.Zero(s.base),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if acc.ParentID != nil {
			if err := s.checkParent(ctx, acc, *acc.ParentID); err != nil {
				return err
			}
		}
		if err := s.repo.Insert(ctx, acc); err != nil {
			return err
		}
		return s.record(ctx, user, "accounts.create", acc, map[string]any{"code": acc.Code, "kind": acc.Kind})
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Update changes name, sub type, parent or active flag. Kind and code are immutable.
func (s *Service) Update(ctx context.Context, user shared.UserContext, id uuid.UUID, in UpdateInput) (Account, error) {
	var out Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		acc, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		changes := map[string]any{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return ErrInvalidAccount.WithMessage("account name is required")
			}
			acc.Name = name
			changes["name"] = name
		}
		if in.SubType != nil {
			if !acc.Kind.Allows(*in.SubType) {
				return ErrInvalidAccount.WithMessage("sub type %s is not valid for %s", *in.SubType, acc.Kind)
			}
			acc.SubType = *in.SubType
			changes["sub_type"] = acc.SubType
		}
		switch {
		case in.ClearParent:
			acc.ParentID = nil
			changes["parent_id"] = nil
		case in.ParentID != nil:
			if err := s.checkParent(ctx, acc, *in.ParentID); err != nil {
				return err
			}
			parent := *in.ParentID
			acc.ParentID = &parent
			changes["parent_id"] = parent.String()
		}
		if in.IsActive != nil {
			acc.IsActive = *in.IsActive
			changes["is_active"] = acc.IsActive
		}
		acc.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, acc); err != nil {
			return err
		}
		out = acc
		return s.record(ctx, user, "accounts.update", acc, changes)
	})
	return out, err
}

// Deactivate hides the account from new postings. Accounts are never deleted.
func (s *Service) Deactivate(ctx context.Context, user shared.UserContext, id uuid.UUID) (Account, error) {
	inactive := false
	return s.Update(ctx, user, id, UpdateInput{IsActive: &inactive})
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.repo.Get(ctx, id)
}

// GetByCode resolves an account by its hotel-unique code.
func (s *Service) GetByCode(ctx context.Context, hotelID uuid.UUID, code string) (Account, error) {
	return s.repo.GetByCode(ctx, hotelID, strings.TrimSpace(code))
}

// ListByKind returns the accounts of one kind ordered by code.
func (s *Service) ListByKind(ctx context.Context, hotelID uuid.UUID, kind Kind) ([]Account, error) {
	if !kind.Valid() {
		return nil, ErrInvalidAccount.WithMessage("unknown account kind %q", kind)
	}
	return s.repo.List(ctx, ListFilter{HotelID: hotelID, Kind: kind})
}

// List returns the chart of a hotel ordered by code.
func (s *Service) List(ctx context.Context, hotelID uuid.UUID, activeOnly bool) ([]Account, error) {
	return s.repo.List(ctx, ListFilter{HotelID: hotelID, ActiveOnly: activeOnly})
}

// Seed installs the canonical chart for a hotel. Existing codes are left alone.
func (s *Service) Seed(ctx context.Context, user shared.UserContext, hotelID uuid.UUID) ([]Account, error) {
	var created []Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		byCode := make(map[string]uuid.UUID)
		existing, err := s.repo.List(ctx, ListFilter{HotelID: hotelID})
		if err != nil {
			return err
		}
		for _, a := range existing {
			byCode[a.Code] = a.ID
		}
		now := s.clock.Now()
		for _, seed := range SeedChart {
			if _, ok := byCode[seed.Code]; ok {
				continue
			}
			acc := Account{
				ID:             uuid.New(),
				HotelID:        hotelID,
				Code:           seed.Code,
				Name:           seed.Name,
				Kind:           seed.Kind,
				SubType:        seed.SubType,
				NormalSide:     seed.Kind.NormalSide(),
				IsActive:       true,
				Currency:       s.base,
				CurrentBalance: money.Zero(s.base),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if seed.Parent != "" {
				if parentID, ok := byCode[seed.Parent]; ok {
					acc.ParentID = &parentID
				}
			}
			if err := s.repo.Insert(ctx, acc); err != nil {
				return err
			}
			byCode[acc.Code] = acc.ID
			created = append(created, acc)
		}
		if len(created) == 0 {
			return nil
		}
		return s.record(ctx, user, "accounts.seed", Account{ID: hotelID, HotelID: hotelID}, map[string]any{"created": len(created)})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) checkParent(ctx context.Context, acc Account, parentID uuid.UUID) error {
	if parentID == acc.ID {
		return ErrInvalidAccount.WithMessage("account cannot be its own parent")
	}
	seen := map[uuid.UUID]bool{acc.ID: true}
	next := parentID
	for depth := 0; ; depth++ {
		parent, err := s.repo.Get(ctx, next)
		if err != nil {
			return ErrInvalidAccount.WithMessage("parent account %s not found", next)
		}
		if depth == 0 {
			if parent.HotelID != acc.HotelID {
				return ErrInvalidAccount.WithMessage("parent belongs to another hotel")
			}
			if parent.Kind != acc.Kind {
				return ErrInvalidAccount.WithMessage("parent kind %s differs from %s", parent.Kind, acc.Kind)
			}
		}
		if parent.ParentID == nil {
			return nil
		}
		if seen[*parent.ParentID] {
			return ErrInvalidAccount.WithMessage("parent chain of %s forms a cycle", acc.Code)
		}
		seen[parent.ID] = true
		next = *parent.ParentID
	}
}

func validateCode(code string, kind Kind) error {
	if len(code) != 5 {
		return ErrInvalidAccount.WithMessage("account code %q must have 5 digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return ErrInvalidAccount.WithMessage("account code %q must be numeric", code)
		}
	}
	for _, p := range kind.CodePrefix() {
		if code[0] == p {
			return nil
		}
	}
	return ErrInvalidAccount.WithMessage("account code %s does not belong to the %s range", code, kind)
}

func (s *Service) record(ctx context.Context, user shared.UserContext, action string, acc Account, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  user.Actor(),
		HotelID:  acc.HotelID.String(),
		Action:   action,
		Entity:   "account",
		EntityID: acc.ID.String(),
		Meta:     meta,
		At:       s.clock.Now(),
	}); err != nil {
		return fmt.Errorf("accounts: audit %s: %w", action, err)
	}
	return nil
}
