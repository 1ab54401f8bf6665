package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// SettlementLockKey builds the lock key guarding settlement mutations.
func SettlementLockKey(settlementID uuid.UUID) string {
	return fmt.Sprintf("lodgeledger:settlement:%s:lock", settlementID)
}

// PaymentLockKey builds the lock key guarding payment state changes.
func PaymentLockKey(paymentID uuid.UUID) string {
	return fmt.Sprintf("lodgeledger:payment:%s:lock", paymentID)
}
