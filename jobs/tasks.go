// Package jobs runs the background side of monitoring: scheduled reorder
// and expiry scans that keep the Redis snapshots warm.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/quartermaster-erp/quartermaster/internal/jobs"
	"github.com/quartermaster-erp/quartermaster/internal/monitoring"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReorderScan recomputes the reorder alert snapshot.
	TaskReorderScan = "monitoring:reorder_scan"
	// TaskExpiryScan recomputes the expiry alert snapshot.
	TaskExpiryScan = "monitoring:expiry_scan"
)

// ScanPayload carries scheduling metadata for scan tasks.
type ScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReorderScanTask constructs an Asynq task for the reorder scan.
func NewReorderScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, body, asynq.Queue(QueueDefault)), nil
}

// NewExpiryScanTask constructs an Asynq task for the expiry scan.
func NewExpiryScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, body, asynq.Queue(QueueDefault)), nil
}

// ScanHandlers builds the task handlers around the monitoring service.
// Both task types refresh the full snapshot set; they are registered
// separately so their schedules can diverge.
func ScanHandlers(svc *monitoring.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) []TaskHandler {
	refresh := func(ctx context.Context, t *asynq.Task) error {
		var payload ScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(t.Type())
		if err := tracker.End(svc.RefreshScans(ctx)); err != nil {
			logger.Error("scan refresh failed",
				slog.String("task", t.Type()), slog.Any("error", err))
			return err
		}
		return nil
	}
	return []TaskHandler{
		{Type: TaskReorderScan, Handler: refresh},
		{Type: TaskExpiryScan, Handler: refresh},
	}
}
