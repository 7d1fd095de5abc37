// Package coordinator tracks long-running background processes such as
// custody sweeps: their status, progress and failures.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type ProcessStatus string

const (
	StatusRunning   ProcessStatus = "running"
	StatusCompleted ProcessStatus = "completed"
	StatusFailed    ProcessStatus = "failed"
	StatusCancelled ProcessStatus = "cancelled"
)

var (
	ErrProcessExists  = errors.New("process already running")
	ErrUnknownProcess = errors.New("unknown process")
	ErrShuttingDown   = errors.New("coordinator is shutting down")
)

type Process struct {
	ID        string
	Kind      string
	Status    ProcessStatus
	StartTime time.Time
	EndTime   time.Time
	Total     int
	Processed int
	Failures  int
	Progress  float64
	Error     error

	cancel   context.CancelFunc
	ctx      context.Context
	finished bool
}

// Context is cancelled when the process is stopped or the coordinator shuts down
func (p *Process) Context() context.Context {
	return p.ctx
}

func (p *Process) snapshot() *Process {
	return &Process{
		ID:        p.ID,
		Kind:      p.Kind,
		Status:    p.Status,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		Total:     p.Total,
		Processed: p.Processed,
		Failures:  p.Failures,
		Progress:  p.Progress,
		Error:     p.Error,
	}
}

type Coordinator struct {
	mu           sync.RWMutex
	processes    map[string]*Process
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	now          func() time.Time
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		processes:  make(map[string]*Process),
		shutdownCh: make(chan struct{}),
		now:        time.Now,
	}
}

// StartProcess registers a running process. A finished process with the same
// id is replaced; a running one is an error.
func (c *Coordinator) StartProcess(ctx context.Context, processID, kind string) (*Process, error) {
	if c.IsShuttingDown() {
		return nil, ErrShuttingDown
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.processes[processID]; exists && !existing.finished {
		return nil, fmt.Errorf("%w: %s", ErrProcessExists, processID)
	}

	processCtx, cancel := context.WithCancel(ctx)
	process := &Process{
		ID:        processID,
		Kind:      kind,
		Status:    StatusRunning,
		StartTime: c.now(),
		cancel:    cancel,
		ctx:       processCtx,
	}
	c.processes[processID] = process
	c.wg.Add(1)

	// Reflect cancellation while the worker drains
	go func() {
		<-processCtx.Done()
		c.mu.Lock()
		if process.Status == StatusRunning {
			process.Status = StatusCancelled
			process.Error = processCtx.Err()
		}
		c.mu.Unlock()
	}()

	return process, nil
}

// StopProcess cancels a running process. The worker still reports through Finish.
func (c *Coordinator) StopProcess(processID string) error {
	c.mu.RLock()
	process, exists := c.processes[processID]
	c.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownProcess, processID)
	}
	process.cancel()
	return nil
}

// UpdateProgress records how many of total items have been handled and how many failed
func (c *Coordinator) UpdateProgress(processID string, processed, total, failures int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	process, exists := c.processes[processID]
	if !exists || process.finished {
		return
	}
	process.Processed = processed
	process.Total = total
	process.Failures = failures
	if total > 0 {
		process.Progress = float64(processed) / float64(total)
	}
}

// Finish marks a process as done. A nil err completes it; cancellation keeps
// the cancelled status; any other error fails it.
func (c *Coordinator) Finish(processID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	process, exists := c.processes[processID]
	if !exists || process.finished {
		return
	}
	switch {
	case err == nil && process.Status == StatusRunning:
		process.Status = StatusCompleted
		process.Progress = 1
	case errors.Is(err, context.Canceled) || process.Status == StatusCancelled:
		process.Status = StatusCancelled
		if err != nil {
			process.Error = err
		}
	default:
		process.Status = StatusFailed
		process.Error = err
	}
	process.EndTime = c.now()
	process.finished = true
	process.cancel()
	c.wg.Done()
}

// GetProcessStatus returns a copy of the process, or nil if unknown
func (c *Coordinator) GetProcessStatus(processID string) *Process {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if process, exists := c.processes[processID]; exists {
		return process.snapshot()
	}
	return nil
}

// ListProcesses returns copies of every known process, oldest first
func (c *Coordinator) ListProcesses() []*Process {
	c.mu.RLock()
	defer c.mu.RUnlock()

	processes := make([]*Process, 0, len(c.processes))
	for _, process := range c.processes {
		processes = append(processes, process.snapshot())
	}
	sort.Slice(processes, func(i, j int) bool {
		if processes[i].StartTime.Equal(processes[j].StartTime) {
			return processes[i].ID < processes[j].ID
		}
		return processes[i].StartTime.Before(processes[j].StartTime)
	})
	return processes
}

// Shutdown cancels every running process and waits for their workers to finish
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })

	c.mu.RLock()
	for _, process := range c.processes {
		if !process.finished {
			process.cancel()
		}
	}
	c.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) IsShuttingDown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}
