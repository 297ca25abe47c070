package telemetry

import (
	"bufio"
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmbench/executor"
	"github.com/mensylisir/xmbench/logger"
)

// Command returns the iostat invocation: extended device stats in MB, idle
// devices and the since-boot report skipped.
func Command(intervalSeconds int) []string {
	if intervalSeconds <= 0 {
		intervalSeconds = 1
	}
	return []string{"iostat", "-d", "-x", "-m", "-y", "-z", strconv.Itoa(intervalSeconds)}
}

// Monitor streams iostat batches from the target until stopped.
type Monitor struct {
	exec     executor.Executor
	interval int
	devices  []string
	poll     time.Duration
	emit     func([]Sample)
	log      *logrus.Entry

	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewMonitor prepares a monitor; emit is called from the monitor goroutine
// once per interval report.
func NewMonitor(exec executor.Executor, intervalSeconds int, devices []string, poll time.Duration, emit func([]Sample)) *Monitor {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Monitor{
		exec:     exec,
		interval: intervalSeconds,
		devices:  devices,
		poll:     poll,
		emit:     emit,
		log:      logger.Log.WithComponent("telemetry"),
		done:     make(chan struct{}),
	}
}

// Start spawns iostat and returns once it is running.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	h, err := m.exec.Spawn(ctx, Command(m.interval))
	if err != nil {
		m.cancel()
		close(m.done)
		return errors.Wrap(err, "failed to start iostat")
	}
	go m.loop(ctx, h)
	return nil
}

func (m *Monitor) loop(ctx context.Context, h executor.ProcessHandle) {
	defer close(m.done)
	defer h.Close()

	lines := make(chan string, 64)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(h.Output())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-quit:
				return
			}
		}
	}()

	parser := NewParser(m.devices)
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		if m.stopped.Load() || ctx.Err() != nil {
			m.halt(h)
			return
		}
		select {
		case line, ok := <-lines:
			if !ok {
				if batch, ok := parser.Flush(); ok {
					m.emit(batch)
				}
				code, _ := h.Wait()
				if !m.stopped.Load() {
					m.log.Warnf("iostat exited with code %d", code)
				}
				return
			}
			if batch, ok := parser.Feed(line); ok && !m.stopped.Load() {
				m.emit(batch)
			}
		case <-ticker.C:
		case <-ctx.Done():
		}
	}
}

func (m *Monitor) halt(h executor.ProcessHandle) {
	if err := h.Terminate(); err != nil {
		m.log.Warnf("failed to terminate iostat: %v", err)
	}
	if _, exited := h.Poll(); !exited {
		time.Sleep(m.poll)
		if _, exited := h.Poll(); !exited {
			_ = h.Kill()
		}
	}
}

// Stop cancels the monitor and waits for its goroutine to finish. It is safe
// to call more than once and on a monitor that was never started.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.once.Do(func() {
		m.stopped.Store(true)
		m.cancel()
	})
	<-m.done
}
