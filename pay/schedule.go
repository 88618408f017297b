package pay

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ScheduleAutoRelease runs BulkRelease over every due booking on spec.
func (c *Coordinator) ScheduleAutoRelease(cr *cron.Cron, spec string) (cron.EntryID, error) {
	return cr.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		res, err := c.BulkRelease(ctx, nil)
		if err != nil {
			c.log.Error("auto-release failed", zap.Error(err))
			return
		}
		if res.Attempted > 0 {
			c.log.Info("auto-release run",
				zap.Int("attempted", res.Attempted),
				zap.Int("succeeded", res.Succeeded),
				zap.Int("failed", res.Failed))
		}
	})
}
