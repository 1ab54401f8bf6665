package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	jobmetrics "github.com/lodgeledger/lodgeledger/internal/jobs"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

var metricName = regexp.MustCompile(`lodgeledger_[a-z_]+`)

// exportedNames touches every collector once so that Gather lists it.
func exportedNames(t *testing.T) map[string]bool {
	t.Helper()
	m := NewMetrics()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	m.JournalPosted(uuid.New(), "standard", 2)
	m.SettlementChanged(uuid.New(), "create", "", "PENDING")
	m.SettlementRejected("payment", shared.KindRuleViolation)

	jm := jobmetrics.NewMetrics(m.Registerer())
	_ = jm.Track("ledger:reconcile").End(errors.New("boom"))
	jm.AddItems("ledger:reconcile", "drift", 1)

	families, err := m.registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
		if f.GetType().String() == "HISTOGRAM" {
			names[f.GetName()+"_bucket"] = true
		}
	}
	return names
}

func TestAlertRules(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "lodgeledger.yml"))
	require.NoError(t, err)

	var spec alertSpec
	require.NoError(t, yaml.Unmarshal(data, &spec))
	require.Len(t, spec.Groups, 1)
	group := spec.Groups[0]
	require.Equal(t, "lodgeledger", group.Name)

	expected := map[string]string{
		"HighErrorRate":            "critical",
		"HighLatency":              "warning",
		"LedgerDrift":              "critical",
		"JobFailures":              "warning",
		"SettlementRejectionSpike": "warning",
	}
	require.Len(t, group.Rules, len(expected))

	exported := exportedNames(t)
	for _, rule := range group.Rules {
		severity, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, severity, rule.Labels["severity"], rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		require.True(t, strings.HasPrefix(rule.Annotations["runbook"], "docs/runbook.md#"), rule.Alert)

		refs := metricName.FindAllString(rule.Expr, -1)
		require.NotEmpty(t, refs, rule.Alert)
		for _, ref := range refs {
			require.True(t, exported[ref], "rule %s references unknown metric %s", rule.Alert, ref)
		}
	}
}
