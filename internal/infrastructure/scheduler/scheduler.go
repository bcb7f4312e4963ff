package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

// ErrJobNotFound 登録されていないジョブ
var ErrJobNotFound = errors.New("job not found")

// Job 定期実行されるジョブ
type Job func(ctx context.Context) error

// Scheduler cron式でジョブを定期実行する
// 同じジョブの実行は重ならない
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]Job
	mu      sync.RWMutex
	logger  *otelinfra.Logger
	tracer  trace.Tracer
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler 新しいSchedulerを作成
// timeout は1回の実行に与える時間 (0なら無制限)
func NewScheduler(logger *otelinfra.Logger, timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		jobs:    make(map[string]Job),
		logger:  logger.With(map[string]interface{}{"component": "scheduler"}),
		tracer:  otel.Tracer("scheduler"),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register ジョブを登録する
func (s *Scheduler) Register(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s is already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(s.ctx, name, job) }); err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}
	s.jobs[name] = job
	return nil
}

// RunNow 登録済みジョブをその場で1回実行する
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, name, job)
}

// Start スケジューラーを開始
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(s.ctx, "Scheduler started", map[string]interface{}{
		"jobs": len(s.jobs),
	})
}

// Stop 新しい実行を止め、実行中のジョブの終了を待つ
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info(ctx, "Scheduler stopped", nil)
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) error {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Run", trace.WithAttributes(
		attribute.String("job", name),
	))
	defer span.End()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Scheduled job failed", err, map[string]interface{}{
			"job": name,
		})
		return err
	}

	s.logger.Debug(ctx, "Scheduled job completed", map[string]interface{}{
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}
