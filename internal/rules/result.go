package rules

import (
	"fmt"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Result is the outcome of one evaluation.
type Result struct {
	IsValid          bool       `json:"is_valid"`
	Violations       []string   `json:"violations"`
	Warnings         []string   `json:"warnings"`
	RequiresApproval bool       `json:"requires_approval"`
	AppliedRules     Thresholds `json:"applied_rules"`
}

func newResult(t Thresholds) *Result {
	return &Result{Violations: []string{}, Warnings: []string{}, AppliedRules: t.clone()}
}

func (r *Result) violate(format string, args ...any) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) done() Result {
	r.IsValid = len(r.Violations) == 0
	return *r
}

// Err converts an invalid result into a RULE_VIOLATION error carrying both vectors.
func (r Result) Err(code string) error {
	if r.IsValid {
		return nil
	}
	return shared.RuleViolation(code, r.Violations, r.Warnings)
}
