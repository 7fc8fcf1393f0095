package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/iJKos/TelegramHelper/internal/platform/observability"
)

func TestFormatStatusStopped(t *testing.T) {
	got := formatStatus(observability.RunStatus{})

	if got != "⏸ Обработка остановлена" {
		t.Errorf("formatStatus() = %q", got)
	}
}

func TestFormatStatusRunning(t *testing.T) {
	status := observability.RunStatus{
		Running:     true,
		CurrentStep: "Step 3: Summarizing",
		LastRun:     time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		Interval:    "15m0s",
		Funnel:      "3 / 3 / 2",
	}

	got := formatStatus(status)

	for _, want := range []string{
		"✅ Обработка запущена",
		"Step 3: Summarizing",
		"2025-06-02 12:00:00 UTC",
		"15m0s",
		"3 / 3 / 2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatStatus() = %q, missing %q", got, want)
		}
	}
}
