package shared

// Permissions checked by the HTTP façade.
const (
	PermAccountsView    = "accounts.view"
	PermAccountsEdit    = "accounts.edit"
	PermJournalView     = "journal.view"
	PermJournalDraft    = "journal.draft"
	PermJournalPost     = "journal.post"
	PermJournalReverse  = "journal.reverse"
	PermPeriodsManage   = "periods.manage"
	PermInvoiceView     = "invoice.view"
	PermInvoiceEdit     = "invoice.edit"
	PermPaymentView     = "payment.view"
	PermPaymentProcess  = "payment.process"
	PermPaymentRefund   = "payment.refund"
	PermPaymentRecon    = "payment.reconcile"
	PermSettlementView  = "settlement.view"
	PermSettlementEdit  = "settlement.edit"
	PermSettlementAdmin = "settlement.manage"
	PermReportsView     = "reports.view"
	PermBudgetsEdit     = "budgets.edit"
	PermJobsView        = "jobs.view"
	PermAuditView       = "audit.view"
)

// AllPermissions lists every permission.
func AllPermissions() []string {
	return []string{
		PermAccountsView, PermAccountsEdit,
		PermJournalView, PermJournalDraft, PermJournalPost, PermJournalReverse,
		PermPeriodsManage,
		PermInvoiceView, PermInvoiceEdit,
		PermPaymentView, PermPaymentProcess, PermPaymentRefund, PermPaymentRecon,
		PermSettlementView, PermSettlementEdit, PermSettlementAdmin,
		PermReportsView, PermBudgetsEdit, PermJobsView,
		PermAuditView,
	}
}

var staffPermissions = []string{
	PermAccountsView,
	PermJournalView, PermJournalDraft,
	PermInvoiceView, PermInvoiceEdit,
	PermPaymentView, PermPaymentProcess,
	PermSettlementView, PermSettlementEdit,
	PermReportsView,
}

var externalPermissions = []string{PermSettlementView}

// RolePermissions returns the static grant set for role.
func RolePermissions(role Role) []string {
	switch role {
	case RoleAdmin, RoleManager:
		return AllPermissions()
	case RoleStaff:
		return append([]string(nil), staffPermissions...)
	case RoleGuest, RoleTravelAgent:
		return append([]string(nil), externalPermissions...)
	}
	return nil
}
