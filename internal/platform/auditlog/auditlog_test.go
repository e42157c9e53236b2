package auditlog

import (
	"net"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	base := Event{
		OccurredAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Actor:        "user-1",
		Action:       "report.completed",
		ResourceType: "report",
		ResourceID:   "run-1",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	missing := base
	missing.Action = "  "
	if err := missing.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank action")
	}
}

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := Event{
		OccurredAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Actor:        "user-1",
		Action:       "report.stage_advanced",
		ResourceType: "report",
		ResourceID:   "run-1",
		RequestID:    "req-1",
		IP:           net.ParseIP("10.0.0.1"),
		UserAgent:    "test-agent",
	}
	payload := []byte(`{"from":"research","to":"analysis"}`)

	first, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	second, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if first != second {
		t.Fatalf("integrity hash not deterministic: %q vs %q", first, second)
	}

	event.Action = "report.completed"
	changed, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if changed == first {
		t.Fatalf("integrity hash should change with event contents")
	}
}
