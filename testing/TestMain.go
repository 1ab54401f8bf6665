package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("LODGELEDGER_TEST_MODE", "1")
		if os.Getenv("LODGELEDGER_BASE_CURRENCY") == "" {
			_ = os.Setenv("LODGELEDGER_BASE_CURRENCY", "INR")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
