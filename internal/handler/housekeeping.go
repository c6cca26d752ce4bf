package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ecg-monitor/internal/models"
	"ecg-monitor/internal/session"

	"go.uber.org/zap"
)

// SessionView is the read side of the session manager.
type SessionView interface {
	Active() []models.SamplingSession
	Session(deviceID string) (*session.Session, bool)
}

// Housekeeper logs a periodic table of running sessions and whether each
// one produced samples since the previous cycle.
type Housekeeper struct {
	sessions SessionView
	log      *zap.Logger
	last     map[string]uint64
}

func NewHousekeeper(sessions SessionView, logger *zap.Logger) *Housekeeper {
	return &Housekeeper{sessions: sessions, log: logger, last: make(map[string]uint64)}
}

func (h *Housekeeper) RunHousekeepingCycle(ctx context.Context, interval time.Duration) {
	h.log.Info("Housekeeping cycle started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Housekeeping cycle stopping")
			return
		case <-ticker.C:
			h.log.Info(h.Report())
		}
	}
}

// Report renders the session table and advances the per-session sample
// baseline. Sessions that ended since the last call are pruned.
func (h *Housekeeper) Report() string {
	active := h.sessions.Active()
	sort.Slice(active, func(i, j int) bool { return active[i].DeviceID < active[j].DeviceID })

	var report strings.Builder
	report.WriteString("\n--- Housekeeping Report ---\n")
	report.WriteString(fmt.Sprintf("%-15s | %-15s | %-10s | %-10s | %-8s\n", "Device", "Patient", "Streaming?", "Samples", "R peaks"))
	report.WriteString(strings.Repeat("-", 70) + "\n")

	seen := make(map[string]uint64, len(active))
	if len(active) == 0 {
		report.WriteString("No active sampling sessions.\n")
	}
	for _, info := range active {
		var samples, peaks uint64
		if s, ok := h.sessions.Session(info.DeviceID); ok {
			samples, peaks = s.Samples(), s.RPeaks()
		}
		prev, known := h.last[info.SessionID]
		streaming := "false"
		if samples > prev || (!known && samples > 0) {
			streaming = "true"
		}
		seen[info.SessionID] = samples
		report.WriteString(fmt.Sprintf("%-15s | %-15s | %-10s | %-10d | %-8d\n",
			info.DeviceID, info.PatientID, streaming, samples, peaks))
	}

	pruned := 0
	for id := range h.last {
		if _, ok := seen[id]; !ok {
			pruned++
		}
	}
	h.last = seen
	if pruned > 0 {
		report.WriteString(fmt.Sprintf("Pruned %d ended session(s).\n", pruned))
	}
	report.WriteString(strings.Repeat("-", 70))
	return report.String()
}
