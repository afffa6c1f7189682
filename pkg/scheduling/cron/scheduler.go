// Package cron schedules deferred and recurring submissions into a
// dispatcher pool. It supports absolute times, delays, fixed intervals,
// and cron expressions (with seconds and @descriptors).
package cron

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/taskflow/pkg/common/errors"
	"github.com/vnykmshr/taskflow/pkg/scheduling/dispatcher"
)

// Submitter is the pool-facing half of the dispatcher API. Both
// *dispatcher.Pool and *dispatcher.InstrumentedPool satisfy it.
type Submitter[P, R any] interface {
	Submit(payload P, opts ...dispatcher.SubmitOption) (*dispatcher.Handle[R], error)
}

// Entry describes one scheduled submission.
type Entry struct {
	ID       string
	NextRun  time.Time
	Interval time.Duration // zero for one-shot and cron entries
	CronExpr string        // empty unless scheduled by expression
	MaxRuns  int           // zero means unlimited
	Runs     int
	Created  time.Time
}

// Config holds scheduler settings.
type Config struct {
	// Location is the timezone for cron evaluation. Defaults to
	// time.Local.
	Location *time.Location

	// TickInterval is how often due entries are checked. Defaults to
	// 50ms; it bounds firing precision.
	TickInterval time.Duration

	// MaxEntries caps the number of scheduled entries. Defaults to
	// 10000.
	MaxEntries int

	// OnSubmitError is called when a due entry's submission to the pool
	// is rejected (queue full, rate limited, shutdown). The entry is
	// not retried for that firing; repeating entries fire again on
	// their next occurrence.
	OnSubmitError func(id string, err error)
}

type entry[P any] struct {
	id       string
	payload  P
	opts     []dispatcher.SubmitOption
	nextRun  time.Time
	interval time.Duration
	cronExpr string
	schedule cron.Schedule
	maxRuns  int
	runs     int
	created  time.Time
}

// Scheduler drives time-based submissions into a dispatcher pool. It
// does not execute anything itself; due payloads go through the pool's
// normal admission, queueing, and retry machinery.
type Scheduler[P, R any] struct {
	pool   Submitter[P, R]
	config Config
	parser cron.Parser

	mu       sync.RWMutex
	entries  map[string]*entry[P]
	ticker   *time.Ticker
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	running  bool
	started  bool
}

// New creates a scheduler feeding the given pool, using defaults.
func New[P, R any](pool Submitter[P, R]) *Scheduler[P, R] {
	return NewWithConfig(pool, Config{})
}

// NewWithConfig creates a scheduler with custom settings. Call Start to
// begin firing entries.
func NewWithConfig[P, R any](pool Submitter[P, R], config Config) *Scheduler[P, R] {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 50 * time.Millisecond
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}

	return &Scheduler[P, R]{
		pool:   pool,
		config: config,
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom |
			cron.Month | cron.Dow | cron.Descriptor),
		entries: make(map[string]*entry[P]),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// ScheduleAt submits the payload once at the given time. A time in the
// past fires on the next tick.
func (s *Scheduler[P, R]) ScheduleAt(id string, payload P, runAt time.Time, opts ...dispatcher.SubmitOption) error {
	if runAt.IsZero() {
		return fmt.Errorf("%w: run time cannot be zero", errors.ErrInvalidConfiguration)
	}
	return s.add(&entry[P]{id: id, payload: payload, opts: opts, nextRun: runAt})
}

// ScheduleAfter submits the payload once after the given delay.
func (s *Scheduler[P, R]) ScheduleAfter(id string, payload P, delay time.Duration, opts ...dispatcher.SubmitOption) error {
	return s.ScheduleAt(id, payload, time.Now().Add(delay), opts...)
}

// ScheduleEvery submits the payload repeatedly at a fixed interval,
// starting one interval from now.
func (s *Scheduler[P, R]) ScheduleEvery(id string, payload P, interval time.Duration, opts ...dispatcher.SubmitOption) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", errors.ErrInvalidConfiguration, interval)
	}
	return s.add(&entry[P]{
		id:       id,
		payload:  payload,
		opts:     opts,
		nextRun:  time.Now().Add(interval),
		interval: interval,
	})
}

// ScheduleCron submits the payload on a cron schedule. Expressions use
// six fields (seconds first) and @descriptors like "@hourly".
func (s *Scheduler[P, R]) ScheduleCron(id, expr string, payload P, opts ...dispatcher.SubmitOption) error {
	if expr == "" {
		return fmt.Errorf("%w: cron expression cannot be empty", errors.ErrInvalidConfiguration)
	}
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("%w: invalid cron expression %q: %v", errors.ErrInvalidConfiguration, expr, err)
	}
	return s.add(&entry[P]{
		id:       id,
		payload:  payload,
		opts:     opts,
		nextRun:  schedule.Next(time.Now().In(s.config.Location)),
		cronExpr: expr,
		schedule: schedule,
	})
}

func (s *Scheduler[P, R]) add(e *entry[P]) error {
	if e.id == "" {
		return fmt.Errorf("%w: entry ID cannot be empty", errors.ErrInvalidConfiguration)
	}
	e.created = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.id]; exists {
		return fmt.Errorf("%w: entry %q already exists", errors.ErrInvalidConfiguration, e.id)
	}
	if len(s.entries) >= s.config.MaxEntries {
		return fmt.Errorf("%w: entry limit %d reached", errors.ErrCapacityExceeded, s.config.MaxEntries)
	}
	s.entries[e.id] = e
	return nil
}

// Cancel removes a scheduled entry. It reports whether the entry
// existed. Submissions already handed to the pool are unaffected.
func (s *Scheduler[P, R]) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		return true
	}
	return false
}

// CancelAll removes every scheduled entry.
func (s *Scheduler[P, R]) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry[P])
}

// List returns the scheduled entries ordered by next run time.
func (s *Scheduler[P, R]) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{
			ID:       e.id,
			NextRun:  e.nextRun,
			Interval: e.interval,
			CronExpr: e.cronExpr,
			MaxRuns:  e.maxRuns,
			Runs:     e.runs,
			Created:  e.created,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}

// NextRun returns the next firing time of an entry.
func (s *Scheduler[P, R]) NextRun(id string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, fmt.Errorf("entry %q not found", id)
	}
	return e.nextRun, nil
}

// LimitRuns caps the total number of times an entry fires. Once the cap
// is reached the entry is removed. A cap at or below the count already
// fired removes the entry immediately.
func (s *Scheduler[P, R]) LimitRuns(id string, maxRuns int) error {
	if maxRuns <= 0 {
		return fmt.Errorf("%w: max runs must be positive, got %d", errors.ErrInvalidConfiguration, maxRuns)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("entry %q not found", id)
	}
	if maxRuns <= e.runs {
		delete(s.entries, id)
		return nil
	}
	e.maxRuns = maxRuns
	return nil
}

// Validate checks a cron expression without scheduling it.
func (s *Scheduler[P, R]) Validate(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// Start begins the tick loop. It fails if the scheduler is already
// running or was stopped.
func (s *Scheduler[P, R]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%w: scheduler already running", errors.ErrInvalidConfiguration)
	}
	select {
	case <-s.done:
		return fmt.Errorf("%w: scheduler was stopped", errors.ErrInvalidConfiguration)
	default:
	}

	s.running = true
	s.started = true
	s.ticker = time.NewTicker(s.config.TickInterval)
	go s.run()
	return nil
}

// Stop halts the tick loop. The returned channel closes once the loop
// has exited; in-flight pool submissions are not awaited.
func (s *Scheduler[P, R]) Stop() <-chan struct{} {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.done)
	} else if !s.started {
		s.stopOnce.Do(func() { close(s.stopped) })
	}
	s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler[P, R]) run() {
	defer s.stopOnce.Do(func() { close(s.stopped) })
	defer s.ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-s.ticker.C:
			s.fireDue(now)
		}
	}
}

// fireDue collects entries whose time has come, reschedules the
// repeating ones, and submits the payloads outside the lock.
func (s *Scheduler[P, R]) fireDue(now time.Time) {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return
	}

	var due []*entry[P]
	for id, e := range s.entries {
		if e.nextRun.After(now) {
			continue
		}
		due = append(due, e)
		e.runs++
		switch {
		case e.maxRuns > 0 && e.runs >= e.maxRuns:
			delete(s.entries, id)
		case e.interval > 0:
			e.nextRun = now.Add(e.interval)
		case e.schedule != nil:
			e.nextRun = e.schedule.Next(now.In(s.config.Location))
		default:
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if _, err := s.pool.Submit(e.payload, e.opts...); err != nil {
			if s.config.OnSubmitError != nil {
				s.config.OnSubmitError(e.id, err)
			}
		}
	}
}
