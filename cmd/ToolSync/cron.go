package main

import (
	"context"
	"errors"

	"ToolSync/internal/biz"
	"ToolSync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/robfig/cron/v3"
)

// defaultReconcileSchedule runs at the top of every hour
// Cron 表达式：0 0 * * * * （秒 分 时 日 月 周）
const defaultReconcileSchedule = "0 0 * * * *"

// reconcileCron periodically requests a full inventory resync so the
// registry converges even when individual change messages were lost.
// It participates in the Kratos lifecycle like any other server.
type reconcileCron struct {
	cron   *cron.Cron
	helper *log.Helper
}

var _ transport.Server = (*reconcileCron)(nil)

// newReconcileCron 构建注册表定时对账任务
// 对账通过 consumer.RequestResync 排队，与故障恢复走同一条恢复路径
func newReconcileCron(c *conf.Sync, consumer *biz.UpdateQueueConsumer, logger log.Logger) *reconcileCron {
	helper := log.NewHelper(logger)
	rc := &reconcileCron{helper: helper}

	if c == nil || c.Reconcile == nil || !c.Reconcile.Enabled {
		return rc
	}

	schedule := c.Reconcile.Schedule
	if schedule == "" {
		schedule = defaultReconcileSchedule
	}

	cr := cron.New(cron.WithSeconds())
	_, err := cr.AddFunc(schedule, func() {
		helper.Info("Starting scheduled registry reconcile...")

		if err := consumer.RequestResync("scheduled reconcile"); err != nil {
			switch {
			case errors.Is(err, biz.ErrRecoveryInFlight), errors.Is(err, biz.ErrResyncPending):
				helper.Infow("msg", "reconcile skipped, a recovery is already underway", "error", err)
			case errors.Is(err, biz.ErrConsumerStopped):
				helper.Warnw("msg", "reconcile skipped, consumer is not running", "error", err)
			default:
				helper.Errorw("msg", "reconcile request failed", "error", err)
			}
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register reconcile cron job", "schedule", schedule, "error", err)
		return rc
	}

	rc.cron = cr
	helper.Infow("msg", "reconcile cron job configured", "schedule", schedule)
	return rc
}

func (r *reconcileCron) Start(_ context.Context) error {
	if r.cron == nil {
		r.helper.Info("reconcile cron disabled")
		return nil
	}
	r.cron.Start()
	return nil
}

func (r *reconcileCron) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	// cron.Stop returns a context that closes once running jobs finish
	done := r.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
