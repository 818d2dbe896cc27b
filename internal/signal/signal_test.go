package signal_test

import (
	"testing"
	"time"

	"commitline/internal/domain"
	"commitline/internal/signal"
)

func TestCauseValidate(t *testing.T) {
	if err := (signal.Cause{}).Validate(); err == nil {
		t.Fatalf("missing primary cause must fail")
	}
	if err := (signal.Cause{Primary: "Bad luck"}).Validate(); err == nil {
		t.Fatalf("cause outside the closed set must fail")
	}
	if err := (signal.Cause{Primary: domain.CauseOther}).Validate(); err == nil {
		t.Fatalf("Other without notes must fail")
	}
	if err := (signal.Cause{Primary: domain.CauseOther, Notes: "crane broke down"}).Validate(); err != nil {
		t.Fatalf("Other with notes should pass: %v", err)
	}
	if err := (signal.Cause{Primary: domain.CauseWeather}).Validate(); err != nil {
		t.Fatalf("plain cause should pass: %v", err)
	}
}

func TestDrilldownKeyPlaceholders(t *testing.T) {
	if got := signal.DrilldownKey(domain.CauseMaterials, "Zone A", "P6"); got != "Materials|Zone A|P6" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := signal.DrilldownKey(domain.CauseMaterials, "", ""); got != "Materials|no_location|no_reference" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestGenerate(t *testing.T) {
	system := domain.PlanSystemP6
	item := domain.WorkItem{
		ID:                  "w1",
		Location:            "Zone B",
		ReferencePlanSystem: &system,
	}
	c := domain.Commitment{ID: "c1", WorkItemID: "w1"}
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s, err := signal.Generate(item, c, signal.Cause{
		Primary:   domain.CauseAccess,
		Secondary: "scaffold handover slipped",
	}, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if s.WorkItemID != "w1" || s.CommitmentID != "c1" {
		t.Fatalf("signal must reference both entities: %+v", s)
	}
	if s.DrilldownKey != "Access|Zone B|P6" {
		t.Fatalf("unexpected drilldown key %q", s.DrilldownKey)
	}
	if s.SecondaryCause == nil || *s.SecondaryCause != "scaffold handover slipped" {
		t.Fatalf("secondary cause lost: %+v", s.SecondaryCause)
	}
	if s.CreatedAt != "2026-03-01T08:00:00Z" {
		t.Fatalf("unexpected created_at %q", s.CreatedAt)
	}
	if _, err := signal.Generate(item, c, signal.Cause{}, now); err == nil {
		t.Fatalf("invalid cause must not generate")
	}
}

func TestAggregateDeterministic(t *testing.T) {
	signals := []domain.LearningSignal{
		{DrilldownKey: "Weather|Zone A|no_reference", PrimaryCause: domain.CauseWeather, CreatedAt: "2026-03-02T08:00:00Z"},
		{DrilldownKey: "Access|Zone A|no_reference", PrimaryCause: domain.CauseAccess, CreatedAt: "2026-03-01T08:00:00Z"},
		{DrilldownKey: "Weather|Zone A|no_reference", PrimaryCause: domain.CauseWeather, CreatedAt: "2026-03-03T08:00:00Z"},
	}
	rows := signal.Aggregate(signals)
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rows))
	}
	// lexicographic on key
	if rows[0].Key != "Access|Zone A|no_reference" || rows[1].Key != "Weather|Zone A|no_reference" {
		t.Fatalf("unexpected order: %q, %q", rows[0].Key, rows[1].Key)
	}
	if rows[1].Count != 2 {
		t.Fatalf("expected count 2, got %d", rows[1].Count)
	}
	if rows[1].LatestCreatedAt != "2026-03-03T08:00:00Z" {
		t.Fatalf("latest must win, got %s", rows[1].LatestCreatedAt)
	}
	if rows[0].PrimaryCause != "Access" || rows[0].Location != "Zone A" || rows[0].ReferenceSystem != "no_reference" {
		t.Fatalf("key parts not split: %+v", rows[0])
	}
	// same input, same output
	again := signal.Aggregate(signals)
	for i := range rows {
		if rows[i] != again[i] {
			t.Fatalf("aggregation not deterministic at %d", i)
		}
	}
	if out := signal.Aggregate(nil); len(out) != 0 {
		t.Fatalf("no signals means no rows")
	}
}

func TestAggregateLocationWithSeparator(t *testing.T) {
	rows := signal.Aggregate([]domain.LearningSignal{
		{
			DrilldownKey: signal.DrilldownKey(domain.CauseMaterials, "Pier 4|north face", "P6"),
			PrimaryCause: domain.CauseMaterials,
			CreatedAt:    "2026-03-01T08:00:00Z",
		},
	})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].PrimaryCause != "Materials" || rows[0].Location != "Pier 4|north face" || rows[0].ReferenceSystem != "P6" {
		t.Fatalf("key parts misattributed: %+v", rows[0])
	}
}
