package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sharnoff/tracectx"
	"github.com/sharnoff/tracectx/internal/workqueue"
)

// shutdown is triggered by SIGINT or SIGTERM. Hooks for it stop the demo early.
var shutdown shutdownSignal

type shutdownSignal struct{}

var errInterrupted = errors.New("interrupted")

func compute(log *zap.Logger, value int, delay time.Duration) {
	defer tracectx.Open("compute").Close()
	log.Info("computing", zap.Int("value", value))
	time.Sleep(time.Duration(value) * delay)
}

func queueThread(signals *tracectx.SignalManager, log *zap.Logger, index int, queue *workqueue.Queue) {
	defer tracectx.Open("queueThread").Close()

	// stopped before the scope closes, so the hook always runs as "main:queueThread"
	hooks := signals.NewChild()
	defer hooks.Stop()
	_ = hooks.On(shutdown, context.Background(), func(context.Context) error {
		log.Info("thread interrupted", zap.Int("thread", index))
		return nil
	})

	log.Info("thread starting", zap.Int("thread", index))
	for queue.PopAndCall() {
	}
	log.Info("thread stopping", zap.Int("thread", index))
}

// run fills a queue with compute jobs and drains it with a set of queue threads, each of which
// inherits the context of the goroutine that started it.
//
// Triggering shutdown on signals drops any jobs that haven't started yet.
func run(signals *tracectx.SignalManager, cfg demoConfig, log *zap.Logger) error {
	defer tracectx.Open("main").Close()

	hooks := signals.NewChild()
	defer hooks.Stop()

	queue := workqueue.New(false)
	for i := 0; i < cfg.Jobs; i += 1 {
		i := i
		queue.Push(func() { compute(log, i, cfg.Delay) })
	}

	var interrupted atomic.Bool
	_ = hooks.On(shutdown, context.Background(), func(context.Context) error {
		interrupted.Store(true)
		log.Info("shutdown requested", zap.Int("dropped", queue.Len()))
		queue.Terminate()
		return nil
	})

	threads := tracectx.NewTracker("queueThreads")
	for i := 0; i < cfg.Workers; i += 1 {
		i := i
		threads.Go(func() { queueThread(hooks, log, i, queue) })
	}

	queue.Activate()
	queue.WaitUntilEmpty()
	queue.Terminate()

	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := threads.TryWait(waitCtx); err != nil {
		log.Error("queue threads did not stop", zap.Any("pending", threads.Tree()))
		return tracectx.Wrap(errors.Wrap(err, "waiting for queue threads"))
	}

	if interrupted.Load() {
		return tracectx.Wrap(errInterrupted)
	}
	log.Info("all jobs finished", zap.Int("jobs", cfg.Jobs))
	return nil
}
