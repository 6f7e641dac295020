package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/midden-io/midden/pkg/integrity"
	"github.com/midden-io/midden/pkg/log"
	"github.com/midden-io/midden/pkg/metrics"
	"github.com/midden-io/midden/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// MonitorState is the lifecycle state of the monitor worker.
type MonitorState int

const (
	MonitorIdle MonitorState = iota
	MonitorSleeping
	MonitorChecking
	MonitorStopping
	MonitorExited
)

func (s MonitorState) String() string {
	switch s {
	case MonitorIdle:
		return "idle"
	case MonitorSleeping:
		return "sleeping"
	case MonitorChecking:
		return "checking"
	case MonitorStopping:
		return "stopping"
	case MonitorExited:
		return "exited"
	}
	return "unknown"
}

const (
	// DefaultDutyCycle is the interval between sweep starts.
	DefaultDutyCycle = 30 * time.Minute

	// DefaultBatchSize bounds how many objects one inventory query
	// hands to the integrity monitor.
	DefaultBatchSize = 100
)

// MonitorWorker periodically sweeps the cache for corrupted objects.
// Each cycle first exhausts the head-bag monitor, then the data
// monitor, then rewrites the status document.
type MonitorWorker struct {
	data *integrity.Monitor
	head *integrity.Monitor

	// DutyCycle is the interval between cycle starts.
	DutyCycle time.Duration

	// StartOffset shifts cycle starts relative to UTC midnight.
	StartOffset time.Duration

	// BatchSize bounds each integrity batch.
	BatchSize int

	statusPath string
	once       atomic.Bool

	mu     sync.Mutex
	state  MonitorState
	stopCh chan struct{}
	done   chan struct{}
	logger zerolog.Logger
}

// NewMonitorWorker creates a monitor worker. head may be nil when
// there is no separate head-bag cache to sweep.
func NewMonitorWorker(data, head *integrity.Monitor, statusPath string) *MonitorWorker {
	return &MonitorWorker{
		data:       data,
		head:       head,
		DutyCycle:  DefaultDutyCycle,
		BatchSize:  DefaultBatchSize,
		statusPath: statusPath,
		state:      MonitorIdle,
		logger:     log.WithComponent("monitor"),
	}
}

// SetOnce toggles one-shot mode. Toggling it on while the worker runs
// makes it exit after the current cycle.
func (m *MonitorWorker) SetOnce(once bool) {
	m.once.Store(once)
}

// State returns the worker's lifecycle state.
func (m *MonitorWorker) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MonitorWorker) setState(s MonitorState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Start launches the worker loop. A worker that has exited may be
// started again; this replaces it with a fresh loop.
func (m *MonitorWorker) Start() error {
	m.mu.Lock()
	if m.state == MonitorSleeping || m.state == MonitorChecking {
		m.mu.Unlock()
		return errors.New("monitor is already running")
	}
	m.state = MonitorIdle
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run()
	return nil
}

// Stop requests a cooperative exit at the next sleep boundary and
// waits for the loop to finish.
func (m *MonitorWorker) Stop() {
	m.mu.Lock()
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-done
}

// nextCycleStart computes the next sweep start: cycle starts anchor
// to UTC midnight plus the start offset, advanced by whole duty
// cycles until the result is in the future.
func (m *MonitorWorker) nextCycleStart(now time.Time) time.Time {
	cycle := m.DutyCycle
	if cycle <= 0 {
		cycle = DefaultDutyCycle
	}
	start := now.UTC().Truncate(24 * time.Hour).Add(m.StartOffset)
	if start.After(now) {
		return start
	}
	return start.Add(now.Sub(start).Truncate(cycle) + cycle)
}

func (m *MonitorWorker) run() {
	defer func() {
		m.setState(MonitorExited)
		close(m.done)
	}()
	m.logger.Info().
		Dur("duty_cycle", m.DutyCycle).
		Msg("Integrity monitor started")

	for {
		next := m.nextCycleStart(time.Now())
		m.setState(MonitorSleeping)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-m.stopCh:
			timer.Stop()
			m.setState(MonitorStopping)
			m.logger.Info().Msg("Integrity monitor stopped")
			return
		}

		m.setState(MonitorChecking)
		if err := m.RunCycle(); err != nil {
			m.logger.Error().Err(err).Msg("Integrity sweep cycle failed")
		}
		if m.once.Load() {
			m.logger.Info().Msg("Integrity monitor exiting after one-shot cycle")
			return
		}
	}
}

// RunCycle performs one complete sweep: the head-bag monitor until no
// objects are due, then the data monitor until no objects are due,
// then a fresh status document.
func (m *MonitorWorker) RunCycle() error {
	timer := prometheus.NewTimer(metrics.MonitorCycleDuration)
	started := time.Now()
	var deleted []string
	total := 0

	for _, mon := range []*integrity.Monitor{m.head, m.data} {
		if mon == nil {
			continue
		}
		for {
			n, err := mon.FindCorruptedObjects(m.BatchSize, &deleted, true)
			if err != nil {
				return err
			}
			total += n
			if n == 0 {
				break
			}
		}
	}

	finished := time.Now()
	status := &types.MonitorStatus{
		LastRan:         started.UnixMilli(),
		LastRanDate:     started.UTC().Format(time.RFC3339),
		LastChecked:     finished.UnixMilli(),
		LastCheckedDate: finished.UTC().Format(time.RFC3339),
		FileCount:       total,
		Deleted:         deleted,
	}
	if err := m.writeStatus(status); err != nil {
		return err
	}

	timer.ObserveDuration()
	metrics.MonitorCyclesTotal.Inc()

	ev := m.logger.Info().Int("checked", total)
	if len(deleted) > 5 {
		ev = ev.Str("deleted", fmt.Sprintf("%d objects, including: %s",
			len(deleted), strings.Join(deleted[:5], ", ")))
	} else if len(deleted) > 0 {
		ev = ev.Str("deleted", strings.Join(deleted, ", "))
	}
	ev.Msg("Integrity sweep completed")
	return nil
}

// writeStatus atomically replaces the status document, so a reader
// never observes a torn write.
func (m *MonitorWorker) writeStatus(status *types.MonitorStatus) error {
	if status.Deleted == nil {
		status.Deleted = []string{}
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding monitor status: %w", err)
	}
	dir := filepath.Dir(m.statusPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}
	tmp := filepath.Join(dir, ".status-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing monitor status: %w", err)
	}
	if err := os.Rename(tmp, m.statusPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing monitor status: %w", err)
	}
	return nil
}

// Status reads the last written status document, marking it running
// when a sweep is in progress at read time. A worker that has never
// completed a cycle yields an empty document.
func (m *MonitorWorker) Status() (*types.MonitorStatus, error) {
	status := &types.MonitorStatus{Deleted: []string{}}
	data, err := os.ReadFile(m.statusPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading monitor status: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, status); err != nil {
			return nil, fmt.Errorf("decoding monitor status: %w", err)
		}
	}
	status.Running = m.State() == MonitorChecking
	return status, nil
}
