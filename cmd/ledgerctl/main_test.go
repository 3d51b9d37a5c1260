package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"retailcore/backend/internal/domain"
)

func TestPrintReportConsistent(t *testing.T) {
	var out bytes.Buffer
	err := printReport(&out, domain.ReconciliationReport{
		Checked: 2,
		Records: []domain.StockReconciliation{
			{ItemID: "A", WarehouseID: "wh-main", Available: 3, MovementSum: 3, Consistent: true},
			{ItemID: "B", WarehouseID: "wh-main", Available: 0, MovementSum: 0, Consistent: true},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "checked 2 records, 0 inconsistent") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestPrintReportListsDrift(t *testing.T) {
	var out bytes.Buffer
	err := printReport(&out, domain.ReconciliationReport{
		Checked:      2,
		Inconsistent: 1,
		Records: []domain.StockReconciliation{
			{ItemID: "A", WarehouseID: "wh-main", Available: 3, MovementSum: 3, Consistent: true},
			{ItemID: "B", WarehouseID: "wh-branch", Available: 7, MovementSum: 5},
		},
	})
	if !errors.Is(err, errInconsistent) {
		t.Fatalf("expected errInconsistent, got %v", err)
	}
	if !strings.Contains(out.String(), "wh-branch") || strings.Contains(out.String(), "\nA ") {
		t.Fatalf("expected only the drifted record, got %q", out.String())
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"reconcile", "sweep-intents"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %s subcommand, got %v", name, err)
		}
	}
}
