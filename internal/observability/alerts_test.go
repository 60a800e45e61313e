package observability

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
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

type ruleFile struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestCashCloseAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "cashclose.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var rules ruleFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	if len(rules.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	var cashGroup *alertGroup
	for i := range rules.Groups {
		if rules.Groups[i].Name == "cash-close" {
			cashGroup = &rules.Groups[i]
			break
		}
	}
	if cashGroup == nil {
		t.Fatal("cash-close alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"MultipleOpenCashPeriods": {severity: "critical", runbook: "docs/runbook-cash-close.md#multiple-open-periods"},
		"CashCloseDatabaseErrors": {severity: "critical", runbook: "docs/runbook-cash-close.md#database-errors"},
		"CashPreviewDegraded":     {severity: "warning", runbook: "docs/runbook-cash-close.md#degraded-previews"},
		"NegativeExpectedCash":    {severity: "warning", runbook: "docs/runbook-cash-close.md#negative-expected-cash"},
	}

	if len(cashGroup.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(cashGroup.Rules))
	}

	for _, rule := range cashGroup.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.Expr == "" {
			t.Fatalf("rule %s must define an expression", rule.Alert)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}
