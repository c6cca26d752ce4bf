package handler

import (
	"context"
	"testing"
	"time"

	"ecg-monitor/internal/detect"
	"ecg-monitor/internal/filter"
	"ecg-monitor/internal/session"
	"ecg-monitor/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func simManager() *session.Manager {
	return session.NewManager(session.ManagerOptions{
		Sources: func(session.Config) (source.Source, error) { return source.NewSimulator(72, 0), nil },
		Defaults: session.Defaults{
			GainIndex:    1,
			RateHz:       250,
			Filter:       true,
			Detect:       true,
			FilterParams: filter.DefaultParams(),
			DetectParams: detect.DefaultStreamParams(),
		},
	})
}

func TestHousekeeper_Report(t *testing.T) {
	m := simManager()
	h := NewHousekeeper(m, zap.NewNop())
	assert.Contains(t, h.Report(), "No active sampling sessions.")

	ctrl := NewSessionController(m, time.Second, nil)
	ctrl.HandleStartMessage([]byte(`{"deviceId":"dev-a","patientId":"pat-a"}`))
	require.Len(t, m.Active(), 1)

	require.Eventually(t, func() bool {
		s, ok := m.Session("dev-a")
		return ok && s.Samples() > 10
	}, 2*time.Second, 10*time.Millisecond)

	report := h.Report()
	assert.Contains(t, report, "dev-a")
	assert.Contains(t, report, "pat-a")
	assert.Contains(t, report, "true")

	ctrl.HandleStopMessage([]byte(`{"deviceId":"dev-a"}`))
	assert.Empty(t, m.Active())

	report = h.Report()
	assert.Contains(t, report, "No active sampling sessions.")
	assert.Contains(t, report, "Pruned 1 ended session(s).")
}

func TestHousekeeper_CycleStopsWithContext(t *testing.T) {
	h := NewHousekeeper(simManager(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.RunHousekeepingCycle(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("housekeeping did not stop")
	}
}

var (
	_ SessionView     = (*session.Manager)(nil)
	_ SessionManager  = (*session.Manager)(nil)
	_ AlertNotifier   = (*MQTTNotifier)(nil)
	_ ResultPublisher = (*KafkaPublisher)(nil)
)
