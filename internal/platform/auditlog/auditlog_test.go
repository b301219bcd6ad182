package auditlog

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	event := Event{
		OccurredAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Actor:        "user-1",
		Action:       "suite.schedule",
		ResourceType: "suite",
		ResourceID:   "suite-1",
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	missing := event
	missing.Action = "   "
	err := missing.Validate()
	if err == nil || !strings.Contains(err.Error(), "Action") {
		t.Fatalf("Validate() err=%v, want Action required", err)
	}
}

func TestComputeIntegritySHA256Deterministic(t *testing.T) {
	event := Event{
		OccurredAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Actor:        "user-1",
		Action:       "auth.forbidden",
		ResourceType: "http",
		ResourceID:   "POST /suites",
		RequestID:    "req-1",
		IP:           net.ParseIP("10.0.0.7"),
		UserAgent:    "curl/8.0",
	}
	payload := []byte(`{"status":403}`)

	a, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("hash not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("hash length=%d, want 64 hex chars", len(a))
	}

	tampered := event
	tampered.ResourceID = "POST /callables"
	c, err := ComputeIntegritySHA256(tampered, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if c == a {
		t.Fatalf("hash unchanged after field edit")
	}
}

func TestNullString(t *testing.T) {
	if got := nullString("  "); got.Valid {
		t.Fatalf("nullString(blank)=%v, want invalid", got)
	}
	got := nullString(" req-1 ")
	if !got.Valid || got.String != "req-1" {
		t.Fatalf("nullString(padded)=%v, want trimmed valid", got)
	}
}
