package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accountingtest"
	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/billing/payments"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/lock"
	"github.com/lodgeledger/lodgeledger/internal/rules"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

var inr = accountingtest.INR

type fixture struct {
	*accountingtest.Env
	svc      *Service
	payments *payments.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := accountingtest.New(t, time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC))
	store, err := rules.NewStore(rules.Defaults())
	require.NoError(t, err)
	pay := payments.NewService(payments.NewMemoryRepository(env.Store), env.Journals, env.Mappings, store,
		shared.NewMemoryIdempotencyStore(), lock.NewLocal(), env.Sequence, env.Audit, env.Clock)
	svc := NewService(NewMemoryRepository(env.Store), env.Journals, env.Mappings, pay, env.Sequence, env.Audit, env.Clock)
	pay.WithInvoices(svc)
	return &fixture{Env: env, svc: svc, payments: pay}
}

// folio bills two room nights at 12% and one dinner at 18%, less 500 flat and 10%.
func (f *fixture) folio(t *testing.T) CreateInput {
	t.Helper()
	fnb := f.Account(t, accounts.CodeFoodBeverageRevenue).ID
	return CreateInput{
		HotelID:   f.Hotel,
		Customer:  Customer{Kind: CustomerGuest, ID: "guest-7", Name: "Asha Rao"},
		BookingID: "BK-1001",
		Currency:  money.INR,
		DueDate:   time.Date(2026, 6, 25, 0, 0, 0, 0, time.UTC),
		Lines: []LineItem{
			{Description: "Deluxe room", Quantity: decimal.NewFromInt(2), UnitPrice: inr(5_000), TaxRate: decimal.NewFromInt(12)},
			{Description: "Dinner", AccountID: &fnb, Quantity: decimal.NewFromInt(1), UnitPrice: inr(1_000), TaxRate: decimal.NewFromInt(18)},
		},
		Discounts: []Discount{{Description: "loyalty", Flat: inr(500), Pct: decimal.NewFromInt(10)}},
	}
}

func (f *fixture) sent(t *testing.T) Invoice {
	t.Helper()
	inv, err := f.svc.Create(context.Background(), f.Staff, f.folio(t))
	require.NoError(t, err)
	inv, err = f.svc.Send(context.Background(), f.Staff, inv.ID)
	require.NoError(t, err)
	return inv
}

func TestCreateComputesTotals(t *testing.T) {
	f := newFixture(t)
	inv, err := f.svc.Create(context.Background(), f.Staff, f.folio(t))
	require.NoError(t, err)

	require.Equal(t, "INV-2026-000001", inv.Number)
	require.Equal(t, StatusDraft, inv.Status)
	require.True(t, inv.Subtotal.Eq(inr(11_000)))
	require.True(t, inv.TotalTax.Eq(inr(1_380)))
	require.True(t, inv.TotalDiscount.Eq(inr(1_600)))
	require.True(t, inv.TotalAmount.Eq(inr(10_780)))
	require.True(t, inv.BalanceAmount.Eq(inv.TotalAmount))
	require.True(t, inv.Lines[0].TaxAmount.Eq(inr(1_200)))
	require.Nil(t, inv.JournalEntryID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*CreateInput){
		"no lines":       func(in *CreateInput) { in.Lines = nil },
		"zero quantity":  func(in *CreateInput) { in.Lines[0].Quantity = decimal.Zero },
		"due before":     func(in *CreateInput) { in.DueDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) },
		"tax over 100":   func(in *CreateInput) { in.Lines[0].TaxRate = decimal.NewFromInt(101) },
		"no customer":    func(in *CreateInput) { in.Customer.Name = " " },
		"huge discount":  func(in *CreateInput) { in.Discounts[0].Flat = inr(50_000) },
		"wrong currency": func(in *CreateInput) { in.Lines[1].UnitPrice = money.FromInt(10, money.USD) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := f.folio(t)
			mutate(&in)
			_, err := f.svc.Create(context.Background(), f.Staff, in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestSendPostsReceivable(t *testing.T) {
	f := newFixture(t)
	inv := f.sent(t)

	require.Equal(t, StatusSent, inv.Status)
	require.NotNil(t, inv.JournalEntryID)
	require.NotNil(t, inv.SentAt)
	require.True(t, f.Balance(t, accounts.CodeAccountsReceivable).Eq(inr(10_780)))
	require.True(t, f.Balance(t, accounts.CodeRoomRevenue).Eq(inr(10_000)))
	require.True(t, f.Balance(t, accounts.CodeFoodBeverageRevenue).Eq(inr(1_000)))
	require.True(t, f.Balance(t, accounts.CodeTaxPayable).Eq(inr(1_380)))
	require.True(t, f.Balance(t, accounts.CodeDiscounts).Eq(inr(1_600)))

	_, err := f.svc.Send(context.Background(), f.Staff, inv.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateDraftRecalculates(t *testing.T) {
	f := newFixture(t)
	inv, err := f.svc.Create(context.Background(), f.Staff, f.folio(t))
	require.NoError(t, err)

	inv, err = f.svc.UpdateDraft(context.Background(), f.Staff, inv.ID, DraftChanges{Discounts: []Discount{}})
	require.NoError(t, err)
	require.True(t, inv.TotalAmount.Eq(inr(12_380)))

	_, err = f.svc.Send(context.Background(), f.Staff, inv.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateDraft(context.Background(), f.Staff, inv.ID, DraftChanges{Discounts: []Discount{}})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRecordPaymentsUntilPaid(t *testing.T) {
	f := newFixture(t)
	inv := f.sent(t)
	ctx := context.Background()

	res, err := f.svc.RecordPayment(ctx, f.Staff, inv.ID, PaymentInput{Method: rules.MethodCash, Amount: inr(5_000)})
	require.NoError(t, err)
	require.Equal(t, payments.StatusCompleted, res.Payment.Status)
	require.Equal(t, inv.ID, *res.Payment.InvoiceID)
	require.Equal(t, StatusPartiallyPaid, res.Invoice.Status)
	require.True(t, res.Invoice.PaidAmount.Eq(inr(5_000)))
	require.True(t, res.Invoice.BalanceAmount.Eq(inr(5_780)))
	require.True(t, f.Balance(t, accounts.CodeAccountsReceivable).Eq(inr(5_780)))
	require.True(t, f.Balance(t, accounts.CodeCashOnHand).Eq(inr(5_000)))

	res, err = f.svc.RecordPayment(ctx, f.Staff, inv.ID, PaymentInput{Method: rules.MethodCard, Amount: inr(5_780)})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, res.Invoice.Status)
	require.True(t, res.Invoice.BalanceAmount.IsZero())
	require.Len(t, res.Invoice.PaymentIDs, 2)
	require.True(t, f.Balance(t, accounts.CodeAccountsReceivable).IsZero())

	_, err = f.svc.RecordPayment(ctx, f.Staff, inv.ID, PaymentInput{Method: rules.MethodCash, Amount: inr(1)})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestOverpaymentRejected(t *testing.T) {
	f := newFixture(t)
	inv := f.sent(t)

	_, err := f.svc.RecordPayment(context.Background(), f.Staff, inv.ID, PaymentInput{Method: rules.MethodCash, Amount: inr(20_000)})
	require.ErrorIs(t, err, ErrOverpayment)
	require.ErrorIs(t, err, shared.ErrValidation)

	list, err := f.payments.List(context.Background(), f.Staff, payments.ListFilter{HotelID: f.Hotel})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestPaymentOnDraftRejected(t *testing.T) {
	f := newFixture(t)
	inv, err := f.svc.Create(context.Background(), f.Staff, f.folio(t))
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(context.Background(), f.Staff, inv.ID, PaymentInput{Method: rules.MethodCash, Amount: inr(100)})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRefreshOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.sent(t)

	n, err := f.svc.RefreshOverdue(ctx, f.Hotel)
	require.NoError(t, err)
	require.Zero(t, n)

	f.Clock.Set(time.Date(2026, 6, 26, 8, 0, 0, 0, time.UTC))
	n, err = f.svc.RefreshOverdue(ctx, f.Hotel)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.svc.Get(ctx, f.Staff, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, got.Status)

	res, err := f.svc.RecordPayment(ctx, f.Staff, inv.ID, PaymentInput{Method: rules.MethodCard, Amount: inr(10_780)})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, res.Invoice.Status)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.svc.Create(ctx, f.Staff, f.folio(t))
	require.NoError(t, err)
	draft, err = f.svc.Cancel(ctx, f.Staff, draft.ID, "guest changed plans")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, draft.Status)
	require.Nil(t, draft.ReversalEntryID)

	inv := f.sent(t)
	_, err = f.svc.Cancel(ctx, f.Staff, inv.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	inv, err = f.svc.Cancel(ctx, f.Staff, inv.ID, "billed to the wrong guest")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, inv.Status)
	require.NotNil(t, inv.ReversalEntryID)
	require.True(t, f.Balance(t, accounts.CodeAccountsReceivable).IsZero())
	require.True(t, f.Balance(t, accounts.CodeRoomRevenue).IsZero())

	_, err = f.svc.Cancel(ctx, f.Staff, inv.ID, "again")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancelWithPaymentsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.sent(t)
	_, err := f.svc.RecordPayment(ctx, f.Staff, inv.ID, PaymentInput{Method: rules.MethodCash, Amount: inr(1_000)})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, f.Staff, inv.ID, "duplicate")
	require.ErrorIs(t, err, ErrHasPayments)
}

func TestFullRefundMarksInvoiceRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.sent(t)
	res, err := f.svc.RecordPayment(ctx, f.Staff, inv.ID, PaymentInput{Method: rules.MethodCard, Amount: inr(10_780)})
	require.NoError(t, err)

	_, err = f.payments.Refund(ctx, f.Manager, res.Payment.ID, payments.RefundInput{Amount: inr(780), Reason: "minibar dispute"})
	require.NoError(t, err)
	got, err := f.svc.Get(ctx, f.Staff, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, got.Status)
	require.True(t, got.BalanceAmount.Eq(inr(780)))

	_, err = f.payments.Refund(ctx, f.Manager, res.Payment.ID, payments.RefundInput{Reason: "stay cancelled"})
	require.NoError(t, err)
	got, err = f.svc.Get(ctx, f.Staff, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, got.Status)
	require.True(t, got.PaidAmount.IsZero())
}

func TestOpenReceivables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.sent(t)
	paid := f.sent(t)
	_, err := f.svc.Create(ctx, f.Staff, f.folio(t))
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(ctx, f.Staff, paid.ID, PaymentInput{Method: rules.MethodCard, Amount: inr(10_780)})
	require.NoError(t, err)

	items, err := f.svc.OpenReceivables(ctx, f.Hotel, f.Clock.Now())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, open.ID, items[0].DocumentID)
	require.Equal(t, "Asha Rao", items[0].Customer)
	require.True(t, items[0].Balance.Eq(inr(10_780)))
}

func TestOtherHotelDenied(t *testing.T) {
	f := newFixture(t)
	inv := f.sent(t)
	outsider := shared.UserContext{UserID: "staff-9", Role: shared.RoleStaff, HotelID: uuid.New()}

	_, err := f.svc.Get(context.Background(), outsider, inv.ID)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)
	_, err = f.svc.Cancel(context.Background(), outsider, inv.ID, "nope")
	require.ErrorIs(t, err, shared.ErrNotAuthorized)
}

func TestDeriveStatus(t *testing.T) {
	due := time.Date(2026, 6, 25, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	after := time.Date(2026, 6, 26, 0, 0, 1, 0, time.UTC)
	base := Invoice{Status: StatusSent, DueDate: due, TotalAmount: inr(100)}
	with := func(status Status, paid int64) Invoice {
		inv := base
		inv.Status = status
		inv.PaidAmount = inr(paid)
		inv.BalanceAmount = inr(100 - paid)
		return inv
	}
	cases := []struct {
		name string
		inv  Invoice
		now  time.Time
		want Status
	}{
		{"unpaid", with(StatusSent, 0), before, StatusSent},
		{"due day is not overdue", with(StatusSent, 0), due.Add(20 * time.Hour), StatusSent},
		{"partial", with(StatusSent, 40), before, StatusPartiallyPaid},
		{"overdue", with(StatusPartiallyPaid, 40), after, StatusOverdue},
		{"paid late", with(StatusOverdue, 100), after, StatusPaid},
		{"draft sticks", with(StatusDraft, 0), after, StatusDraft},
		{"cancelled sticks", with(StatusCancelled, 0), after, StatusCancelled},
		{"refunded sticks", with(StatusRefunded, 0), after, StatusRefunded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.inv.DeriveStatus(tc.now))
		})
	}
}
