package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"convo-lab/contract"
	"convo-lab/errors"
	"convo-lab/telemetry"
)

const defaultRestartInterval = 200 * time.Millisecond

var _ contract.ISupervisor = (*Supervisor)(nil)

// Supervisor runs each worker in its own goroutine.
// A worker that panics or returns an error is restarted after RestartInterval.
// A worker returning nil is finished and never restarted.
// Stop cancels every worker, Wait blocks until all of them returned.
type Supervisor struct {
	log             *slog.Logger
	restartInterval time.Duration
	emitter         *telemetry.Emitter
	wg              sync.WaitGroup

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSupervisor(ctx context.Context, log *slog.Logger, restartInterval time.Duration) *Supervisor {
	if restartInterval <= 0 {
		restartInterval = defaultRestartInterval
	}
	supervisedCtx, cancel := context.WithCancel(ctx)
	return &Supervisor{log: log, restartInterval: restartInterval, ctx: supervisedCtx, cancel: cancel}
}

// WithEmitter reports every restart as a telemetry event.
func (s *Supervisor) WithEmitter(emitter *telemetry.Emitter) *Supervisor {
	s.emitter = emitter
	return s
}

// Start runs worker under supervision until ctx or the supervisor is canceled.
func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.mu.Lock()
	workerCtx, cancel := mergeCancel(s.ctx, ctx)
	s.wg.Add(1)
	s.mu.Unlock()
	workerName := contract.GetWorkerName(worker)

	go func() {
		defer s.wg.Done()
		defer cancel()

		for {
			if workerCtx.Err() != nil {
				s.log.Debug(fmt.Sprintf("Stopping : %s", workerName))
				return
			}

			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("%w: %v", errors.ErrWorkerPanic, r)
					}
				}()
				return worker.Run(workerCtx)
			}()

			if err == nil {
				s.log.Debug(fmt.Sprintf("Worker finished : %s", workerName))
				return
			}

			if workerCtx.Err() != nil {
				s.log.Debug("Worker stopped (context canceled)", "name", workerName)
				return
			}

			s.log.Warn("Worker crashed, restarting", "name", workerName, "error", err)
			s.emitter.Emit(telemetry.WorkerRestartedType, telemetry.WorkerRestarted{WorkerName: workerName, Err: err.Error()})
			select {
			case <-workerCtx.Done():
				return
			case <-time.After(s.restartInterval):
			}
		}
	}()
}

// Stop cancels every supervised worker.
func (s *Supervisor) Stop() {
	s.cancel()
}

func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// mergeCancel returns a context canceled when either parent is.
// Values come from the caller context.
func mergeCancel(supervisor, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(caller)
	stop := context.AfterFunc(supervisor, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
