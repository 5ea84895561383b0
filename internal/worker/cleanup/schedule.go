package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
)

// Job はスケジューラから実行されるジョブのインターフェース。
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler はcron式に従ってJobを実行する。
// 前回の実行が終わっていない場合、その回の実行はスキップする。
type Scheduler struct {
	job     Job
	expr    string
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler はSchedulerを生成する。exprは5フィールドのcron式。
func NewScheduler(job Job, expr string, logger *slog.Logger) (*Scheduler, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("不正なcron式です: %q", expr)
	}
	return &Scheduler{
		job:    job,
		expr:   expr,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Next はtより後の次回実行時刻を返す。
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Start は起動直後に1回実行し、以降はcron式の時刻ごとに実行する。
// コンテキストがキャンセルされると、実行中のジョブの終了を待って戻る。
func (s *Scheduler) Start(ctx context.Context) {
	defer s.wg.Wait()

	s.logger.Info("メンテナンススケジューラを開始しました",
		slog.String("cron", s.expr),
	)

	s.trigger(ctx)

	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.logger.Error("次回実行時刻の計算に失敗しました",
				slog.String("cron", s.expr),
				slog.String("error", err.Error()),
			)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("メンテナンススケジューラを停止しました")
			return
		case <-timer.C:
			s.trigger(ctx)
		}
	}
}

// trigger はジョブを非同期に実行する。実行中であればスキップしてfalseを返す。
func (s *Scheduler) trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("前回のメンテナンスが実行中のためスキップしました")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if err := s.job.Run(ctx); err != nil {
			s.logger.Error("メンテナンスジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()
	return true
}
