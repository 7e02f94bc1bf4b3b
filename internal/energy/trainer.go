package energy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/energy/forecast"
	"github.com/wattscope/wattscope/internal/energy/series"
)

// trainer runs ensemble training off the request path. A single goroutine
// drains a capacity-1 request channel, so duplicate triggers arriving
// while a fit is in flight collapse into at most one follow-up run.
type trainer struct {
	buffer   *series.Buffer
	ensemble *forecast.Ensemble
	logger   *zap.Logger
	onDone   func(err error)

	requests chan struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func newTrainer(buffer *series.Buffer, ensemble *forecast.Ensemble, logger *zap.Logger, onDone func(err error)) *trainer {
	return &trainer{
		buffer:   buffer,
		ensemble: ensemble,
		logger:   logger,
		onDone:   onDone,
		requests: make(chan struct{}, 1),
	}
}

// start launches the training loop.
func (t *trainer) start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.loop(ctx)
}

// stop waits for any in-flight training run to finish. Started runs are
// allowed to complete; only pending requests are abandoned.
func (t *trainer) stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// request asks for a training run. Non-blocking: if a request is already
// queued the trigger is dropped, since the queued run will see the same
// (or newer) data.
func (t *trainer) request() {
	select {
	case t.requests <- struct{}{}:
	default:
	}
}

func (t *trainer) loop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.requests:
			t.runOnce()
		}
	}
}

func (t *trainer) runOnce() {
	snapshot := t.buffer.Snapshot()
	if need := t.ensemble.MinSamples(); len(snapshot) < need {
		t.logger.Debug("skipping training run, series too short",
			zap.Int("have", len(snapshot)),
			zap.Int("need", need),
		)
		return
	}

	start := time.Now()
	err := t.ensemble.Train(snapshot)
	trainingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		trainingRuns.WithLabelValues("failure").Inc()
	} else {
		trainingRuns.WithLabelValues("success").Inc()
	}
	if t.onDone != nil {
		t.onDone(err)
	}
}
