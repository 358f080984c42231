package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/swap-arbiter/internal/goroutine"
	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/metrics"
)

// SweepJob одна идемпотентная фоновая проверка.
type SweepJob struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeper периодически запускает проверки сроков: истечение заявок, таймауты задач, дедлайны споров.
type Sweeper struct {
	cron *cron.Cron
	jobs []SweepJob
	ctx  context.Context
}

// NewSweeper собирает планировщик. Задачи не перекрываются: запуск пропускается, пока идёт предыдущий.
func NewSweeper(ctx context.Context, jobs ...SweepJob) *Sweeper {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Sweeper{cron: c, jobs: jobs, ctx: ctx}
}

// DefaultSweepJobs возвращает стандартный набор проверок.
func DefaultSweepJobs(orders *OrderService, validations *ValidationService, disputes *DisputeService) []SweepJob {
	return []SweepJob{
		{Name: "orders.expire", Run: orders.ExpireStale},
		{Name: "validations.timeouts", Run: validations.CheckTimeouts},
		{Name: "disputes.deadlines", Run: disputes.CheckDeadlines},
	}
}

// Start регистрирует задачи с интервалом every и запускает планировщик.
func (s *Sweeper) Start(every time.Duration) error {
	spec := fmt.Sprintf("@every %s", every)
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("sweeper: некорректный интервал %s: %w", every, err)
	}
	s.cron.Start()
	logger.Log.WithField("interval", every.String()).Info("sweeper: запущен")
	return nil
}

// RunOnce выполняет все проверки последовательно. Паника в одной проверке не останавливает остальные.
func (s *Sweeper) RunOnce() {
	for _, job := range s.jobs {
		goroutine.SafeRun(func() {
			start := time.Now()
			n, err := job.Run(s.ctx)
			metrics.RecordSweep(job.Name, time.Since(start), err == nil)

			entry := logger.Log.WithFields(logrus.Fields{
				"job":      job.Name,
				"affected": n,
			})
			switch {
			case err != nil:
				entry.WithError(err).Error("sweeper: проверка завершилась ошибкой")
			case n > 0:
				entry.Info("sweeper: проверка выполнена")
			}
		})
	}
}

// Stop останавливает планировщик и ждёт завершения текущего запуска.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	logger.Log.Info("sweeper: остановлен")
}
