package service

import (
	"context"
	"log/slog"
)

// Health is the aggregate view over one supervisor. It only observes; it
// never gates startup or restarts anything.
type Health struct {
	Healthy  bool     `json:"healthy"`
	Services []Status `json:"services"`
}

// CheckHealth snapshots every service and ANDs the running flags. An empty
// service set is healthy.
func CheckHealth(ctx context.Context, sup *Supervisor) Health {
	statuses := sup.StatusAll(ctx)
	h := Health{Healthy: true, Services: statuses}
	for _, st := range statuses {
		if !st.Running {
			h.Healthy = false
		}
	}
	return h
}

// LogHealth records the aggregate at boot. The server proceeds regardless;
// per-service detail stays queryable on /health for operators to act on.
func LogHealth(ctx context.Context, sup *Supervisor) Health {
	h := CheckHealth(ctx, sup)
	if h.Healthy {
		slog.Info("all services healthy", "count", len(h.Services))
	} else {
		down := make([]string, 0)
		for _, st := range h.Services {
			if !st.Running {
				down = append(down, st.Name)
			}
		}
		slog.Warn("services not healthy", "down", down)
	}
	return h
}
