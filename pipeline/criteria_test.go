package pipeline

import "testing"

func TestCriteriaCatalog(t *testing.T) {
	catalog := CriteriaCatalog()
	if len(catalog) != 5 {
		t.Fatalf("expected 5 criteria, got %d", len(catalog))
	}
	for _, info := range catalog {
		if !KnownCriterionCode(info.Code) {
			t.Errorf("catalog entry %q is not a known code", info.Code)
		}
		if ExternalCriterionCode(info.Code) != info.ExternalCode {
			t.Errorf("catalog entry %q disagrees with the code table (%q)", info.Code, info.ExternalCode)
		}
	}

	// The catalog is a copy.
	catalog[0].Code = "mutated"
	if CriteriaCatalog()[0].Code == "mutated" {
		t.Error("catalog mutation leaked")
	}
}

func TestSelectBadgeClass(t *testing.T) {
	tests := []struct {
		name      string
		fulfilled []string
		wantClass string
		wantOK    bool
	}{
		{
			name:      "all criteria earns gold",
			fulfilled: []string{"qc_style", "qc_coverage", "qc_functional", "qc_security", "qc_doc"},
			wantClass: "gold",
			wantOK:    true,
		},
		{
			name:      "style coverage functional earns silver",
			fulfilled: []string{"qc_style", "qc_coverage", "qc_functional"},
			wantClass: "silver",
			wantOK:    true,
		},
		{
			name:      "style alone earns bronze",
			fulfilled: []string{"qc_style"},
			wantClass: "bronze",
			wantOK:    true,
		},
		{
			name:      "extra criteria without the silver set stays bronze",
			fulfilled: []string{"qc_style", "qc_doc", "qc_security"},
			wantClass: "bronze",
			wantOK:    true,
		},
		{
			name:      "nothing fulfilled earns nothing",
			fulfilled: nil,
			wantOK:    false,
		},
		{
			name:      "coverage without style earns nothing",
			fulfilled: []string{"qc_coverage"},
			wantOK:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fulfilled := make(map[string]bool)
			for _, code := range tt.fulfilled {
				fulfilled[code] = true
			}
			policy, ok := selectBadgeClass(fulfilled)
			if ok != tt.wantOK {
				t.Fatalf("selectBadgeClass ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && policy.name != tt.wantClass {
				t.Errorf("selectBadgeClass = %q, want %q", policy.name, tt.wantClass)
			}
		})
	}
}

func TestFulfilledCriteria(t *testing.T) {
	results := map[string]StageOutput{
		"qc_style":    {Status: "SUCCESS"},
		"qc_coverage": {Status: "FAILURE"},
		"qc_doc":      {Status: "SUCCESS"},
		"Declarative": {Status: "SUCCESS"}, // not a criterion stage
	}
	fulfilled := fulfilledCriteria(results)
	if len(fulfilled) != 2 {
		t.Fatalf("expected 2 fulfilled criteria, got %v", fulfilled)
	}
	if !fulfilled["qc_style"] || !fulfilled["qc_doc"] {
		t.Errorf("unexpected fulfilled set %v", fulfilled)
	}
}
