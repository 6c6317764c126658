package storage

import (
	"testing"
	"time"
)

func TestBuildCashSummaryPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeCashSummary, PathParams{
		Day:      time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		FileName: "summary-01HX.csv",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "exports/cash-summaries/2024/05/10/summary-01HX.csv"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidInput(t *testing.T) {
	if _, err := BuildObjectPath(PurposeCashSummary, PathParams{Day: time.Now(), FileName: "../bad.csv"}); err == nil {
		t.Fatalf("expected error for traversal in file name")
	}
	if _, err := BuildObjectPath(PurposeCashSummary, PathParams{FileName: "x.csv"}); err == nil {
		t.Fatalf("expected error for missing day")
	}
	if _, err := BuildObjectPath(ExportPurpose("unknown"), PathParams{}); err == nil {
		t.Fatalf("expected error for unknown purpose")
	}
}
