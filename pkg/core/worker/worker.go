package worker

import (
	"context"
	"sync"

	"github.com/observashop/notification-service/pkg/core/health"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewWorkerModule forces instantiation of every registered worker so
// their lifecycle hooks run.
func NewWorkerModule() fx.Option {
	return fx.Invoke(
		fx.Annotate(
			func(workers []worker) {},
			fx.ParamTags(`group:"workers"`),
		),
	)
}

// runnable is anything with a blocking Run method returning a fatal error.
type runnable interface {
	Run(ctx context.Context) error
}

type worker interface {
	Start()
	Stop()
}

// Options configures a registered worker.
type Options struct {
	WaitReady       bool
	ShutdownOnError bool
}

// Option is a functional option for Register.
type Option func(*Options)

// WithReady makes the worker wait for all components to be ready before
// running.
func WithReady() Option {
	return func(o *Options) { o.WaitReady = true }
}

// WithShutdown makes a fatal worker error shut the application down.
func WithShutdown() Option {
	return func(o *Options) { o.ShutdownOnError = true }
}

type baseWorker struct {
	name       string
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	log        *zap.Logger
	runFunc    func(ctx context.Context) error
	shutdowner fx.Shutdowner
	readiness  health.ReadinessWaiter
	options    Options
}

func (w *baseWorker) Start() {
	w.log.Info("starting " + w.name)
	w.ctx, w.cancelFunc = context.WithCancel(context.Background())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

func (w *baseWorker) run() {
	if w.options.WaitReady {
		w.log.Info("waiting for components readiness")
		if err := w.readiness.WaitReady(w.ctx); err != nil {
			w.log.Info(w.name + " stopped (cancelled while waiting for readiness)")
			return
		}
	}

	err := w.runFunc(w.ctx)
	if err == nil {
		w.log.Info(w.name + " stopped")
		return
	}

	if w.options.ShutdownOnError {
		w.log.Error(w.name+" fatal error, initiating shutdown", zap.Error(err))
		if shutdownErr := w.shutdowner.Shutdown(fx.ExitCode(1)); shutdownErr != nil {
			w.log.Error("failed to initiate shutdown", zap.Error(shutdownErr))
		}
	} else {
		w.log.Error(w.name+" stopped with error", zap.Error(err))
	}
}

func (w *baseWorker) Stop() {
	w.log.Info("stopping " + w.name)
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
}

// Register provides a lifecycle-managed worker wrapping the Run method of
// the dependency T.
//
// Example:
//
//	fx.Provide(worker.Register[*consumer.Loop]("event-consumer",
//		worker.WithReady(), worker.WithShutdown()))
func Register[T runnable](name string, opts ...Option) any {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	return fx.Annotate(
		func(lc fx.Lifecycle, log *zap.Logger, shutdowner fx.Shutdowner, readiness health.ReadinessWaiter, dep T) worker {
			w := &baseWorker{
				name:       name,
				log:        log,
				runFunc:    dep.Run,
				shutdowner: shutdowner,
				readiness:  readiness,
				options:    options,
			}
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					w.Start()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					w.Stop()
					return nil
				},
			})
			return w
		},
		fx.ResultTags(`group:"workers"`),
	)
}
