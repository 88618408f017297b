package verify

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func (r *Registry) ScheduleExpirySweep(cr *cron.Cron, spec string, window time.Duration) (cron.EntryID, error) {
	return cr.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := r.SweepExpiring(ctx, window); err != nil {
			r.log.Error("expiry sweep failed", zap.Error(err))
		}
	})
}
