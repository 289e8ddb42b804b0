// Package task runs the per-connection goroutines of the detector client.
//
// A Manager owns a cancelable context derived from its parent. Tasks started on it run a
// step function in a loop until the step returns false or the context is canceled, and an
// optional exit hook runs when the goroutine ends for any reason, including a panic.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("receiverTask", receiveStep, onDisconnect)
//	...
//	mgr.Stop()
//	mgr.Wait()
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Erick14-l/RCS-AutoTest/logger"
)

// StepFunc performs one iteration of a task. It returns false to end the task.
type StepFunc func(ctx context.Context) bool

// ExitFunc is called once when a task goroutine exits.
type ExitFunc func()

// ErrStopped is returned by Start after Stop has been called.
var ErrStopped = errors.New("task manager already stopped")

// Manager manages the lifecycle of a group of task goroutines.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
}

// NewManager creates a Manager whose tasks are canceled when ctx is done or Stop is called.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by all tasks of the manager.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Start launches a goroutine that calls step until it returns false or the manager is stopped.
// onExit, if not nil, runs when the goroutine ends.
func (mgr *Manager) Start(name string, step StepFunc, onExit ExitFunc) error {
	if step == nil {
		return fmt.Errorf("task %s: step function is nil", name)
	}

	select {
	case <-mgr.ctx.Done():
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	default:
	}

	mgr.logger.Debug("start task", "name", name)

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "taskCount", mgr.Count())
		}()
		if onExit != nil {
			defer onExit()
		}

		mgr.runLoop(name, step)
	}()

	return nil
}

// Stop cancels the context of all running tasks. It does not wait for them.
func (mgr *Manager) Stop() {
	mgr.cancel()
}

// Wait blocks until every task started on the manager has exited.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// Count returns the number of running tasks.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) runLoop(name string, step StepFunc) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-mgr.ctx.Done():
			return
		default:
			if !step(mgr.ctx) {
				return
			}
		}
	}
}
