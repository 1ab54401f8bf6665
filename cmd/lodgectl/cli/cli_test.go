package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/app"

	_ "github.com/lodgeledger/lodgeledger/testing"
)

func run(t *testing.T, cfg *app.Config, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRoot(&out, &errOut, func() (*app.Config, error) { return cfg, nil })
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func memoryConfig() *app.Config {
	return &app.Config{LogLevel: "error", DefaultCurrency: "INR", FiscalYearStartMonth: 4, RateLimitPerMinute: 1}
}

func TestFXImportDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.csv")
	require.NoError(t, os.WriteFile(path, []byte("pair,date,rate\nusdinr,2026-04-01,83.10\nEURINR, 2026-04-01, 90.25\n"), 0o600))

	out, err := run(t, memoryConfig(), "fx", "import", "--dry-run", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, []string{"USDINR 2026-04-01 83.1", "EURINR 2026-04-01 90.25"}, lines)
}

func TestParseRateCSVRejectsBadRows(t *testing.T) {
	_, err := parseRateCSV([]byte("pair,rate\nUSDINR,1"))
	require.ErrorContains(t, err, `missing column "date"`)

	_, err = parseRateCSV([]byte("pair,date,rate\nUSDINR,2026-04-01,-2"))
	require.ErrorContains(t, err, "line 2")

	_, err = parseRateCSV([]byte("pair,date,rate\nUSD,2026-04-01,2"))
	require.ErrorContains(t, err, "two ISO codes")
}

func TestCommandsNeedBackingServices(t *testing.T) {
	_, err := run(t, memoryConfig(), "migrate")
	require.ErrorContains(t, err, "DATABASE_URL")

	_, err = run(t, memoryConfig(), "reconcile")
	require.ErrorContains(t, err, "DATABASE_URL")

	_, err = run(t, memoryConfig(), "jobs", "trigger", "settlement:sweep")
	require.ErrorContains(t, err, "REDIS_ADDR")
}

func TestJobsTriggerValidatesTask(t *testing.T) {
	_, err := run(t, memoryConfig(), "jobs", "trigger", "email:send")
	require.ErrorContains(t, err, "unknown task type")

	_, err = run(t, memoryConfig(), "jobs", "trigger", "ledger:reconcile", "--hotel", "lobby")
	require.ErrorContains(t, err, "invalid hotel id")
}

func TestSeedAccountsRequiresHotel(t *testing.T) {
	cfg := memoryConfig()
	cfg.DatabaseURL = "postgres://unused"
	_, err := run(t, cfg, "seed-accounts", "--hotel", "not-a-uuid")
	require.ErrorContains(t, err, "invalid --hotel")
}
