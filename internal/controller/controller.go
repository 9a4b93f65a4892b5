// Package controller owns the mission loop: it starts and stops runs, feeds
// each tick from the sensor topics and fans the resulting setpoint out to
// the publishers and the flight log.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/offboard/internal/bus"
	"github.com/banshee-data/offboard/internal/db"
	"github.com/banshee-data/offboard/internal/mission"
	"github.com/banshee-data/offboard/internal/monitoring"
	"github.com/banshee-data/offboard/internal/sensor"
	"github.com/banshee-data/offboard/internal/tick"
	"github.com/banshee-data/offboard/internal/timeutil"
)

var logf = monitoring.Scoped("controller")

var (
	// ErrNotRunning is returned by Mark when no mission is running.
	ErrNotRunning = errors.New("mission not running")
	// ErrMarkPending is returned when the mark queue is full.
	ErrMarkPending = errors.New("mark already pending")
)

// Publisher receives every tick's output.
type Publisher interface {
	Publish(out mission.Output) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(out mission.Output) error

func (f PublisherFunc) Publish(out mission.Output) error { return f(out) }

// FlightLog records runs. *db.DB implements it.
type FlightLog interface {
	StartRun(mission string, at time.Time) (string, error)
	RecordTick(runID string, r db.TickRecord) error
	RecordTransition(runID string, r db.TransitionRecord) error
	RecordFault(runID string, r db.FaultRecord) error
	FinishRun(runID string, at time.Time, finalState string, ticks uint64, fault error) error
}

// Topics are the bus topics a run reads from and writes to.
type Topics struct {
	Position *bus.Topic[sensor.PositionVelocitySample]
	Range    *bus.Topic[sensor.RangeSample]
	Vision   *bus.Topic[sensor.VisionSample]
	Setpoint *bus.Topic[mission.Output]
}

// NewTopics returns a fresh set of topics.
func NewTopics() Topics {
	return Topics{
		Position: bus.NewTopic[sensor.PositionVelocitySample](string(sensor.TopicPosition)),
		Range:    bus.NewTopic[sensor.RangeSample](string(sensor.TopicRange)),
		Vision:   bus.NewTopic[sensor.VisionSample](string(sensor.TopicVision)),
		Setpoint: bus.NewTopic[mission.Output]("setpoint"),
	}
}

// Config configures a Controller.
type Config struct {
	Mission    mission.Kind
	Settings   mission.Settings
	Topics     Topics
	Publishers []Publisher
	// Log is optional.
	Log   FlightLog
	Clock timeutil.Clock
	// StopWhenDone ends the run on the first tick spent in a terminal or
	// abort state.
	StopWhenDone bool
	// OnRunning is told when a run becomes active and when it ends. It is
	// called with the controller lock held and must not call back into the
	// Controller.
	OnRunning func(running bool)
}

// Status is a point-in-time view of the controller.
type Status struct {
	Running   bool      `json:"running"`
	Mission   string    `json:"mission"`
	RunID     string    `json:"run_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Tick      uint64    `json:"tick"`
	Ticks     string    `json:"ticks"`
	Done      bool      `json:"done"`
	Drop      bool      `json:"drop"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Fault     string    `json:"fault,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	RunCount  int64     `json:"run_count"`
}

// run is the state owned by one mission execution.
type run struct {
	id        string
	sched     *tick.Scheduler
	machine   *mission.Machine
	startedAt time.Time
	done      chan struct{}
	err       error
}

// Controller starts and stops mission runs. All methods are safe for
// concurrent use.
type Controller struct {
	cfg   Config
	marks chan string

	mu        sync.RWMutex
	current   *run
	starting  bool
	state     mission.StateID
	tickN     uint64
	drop      bool
	finished  bool
	fault     error
	lastErr   error
	runCount  int64
	lastRunID string
	startedAt time.Time
}

// New returns a stopped controller.
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Settings.TickPeriod <= 0 {
		cfg.Settings.TickPeriod = mission.NominalTickPeriod
	}
	return &Controller{
		cfg: cfg,
		// Marks are applied at the start of the next tick; a small queue
		// lets an operator mark two points in quick succession.
		marks: make(chan string, 4),
	}
}

// IsRunning reports whether a mission loop is active.
func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

// Start begins a new run with a fresh mission. Starting while a run is
// active, or while another Start is opening one, is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.current != nil || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	c.mu.Unlock()

	r, err := c.newRun()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return err
	}
	m := r.machine

	// Drop marks queued for a previous run.
	for len(c.marks) > 0 {
		<-c.marks
	}

	c.current = r
	c.state = m.State()
	c.tickN = 0
	c.drop = false
	c.finished = false
	c.fault = nil
	c.lastErr = nil
	c.lastRunID = r.id
	c.startedAt = r.startedAt
	c.notifyRunning(true)

	go c.loop(r)
	logf("started %s mission run %s", c.cfg.Mission, r.id)
	return nil
}

// newRun opens the flight-log run and builds the mission. It does flight-log
// I/O and must be called without c.mu held.
func (c *Controller) newRun() (*run, error) {
	r := &run{
		sched:     &tick.Scheduler{Period: c.cfg.Settings.TickPeriod, Clock: c.cfg.Clock},
		startedAt: c.cfg.Clock.Now(),
		done:      make(chan struct{}),
	}
	if c.cfg.Log != nil {
		id, err := c.cfg.Log.StartRun(string(c.cfg.Mission), r.startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to start flight log: %w", err)
		}
		r.id = id
	}

	m, err := mission.New(c.cfg.Mission, c.cfg.Settings,
		mission.WithTransitionHook(func(n uint64, from, to mission.StateID, name string) {
			c.logTransition(r.id, n, from, to, name)
		}),
		mission.WithFaultHook(func(n uint64, state mission.StateID, err error) {
			c.logFault(r.id, n, state, err)
		}),
	)
	if err != nil {
		if c.cfg.Log != nil {
			if logErr := c.cfg.Log.FinishRun(r.id, r.startedAt, "", 0, err); logErr != nil {
				logf("failed to finish flight log for run %s: %v", r.id, logErr)
			}
		}
		return nil, fmt.Errorf("failed to build %s mission: %w", c.cfg.Mission, err)
	}
	r.machine = m
	return r, nil
}

// RequestStop asks the running loop to exit after its current tick and
// returns without waiting.
func (c *Controller) RequestStop() {
	c.mu.RLock()
	r := c.current
	c.mu.RUnlock()
	if r != nil {
		r.sched.Stop()
	}
}

// Wait blocks until the current run, if any, has exited and returns its
// error. A run ended by Stop returns nil.
func (c *Controller) Wait() error {
	c.mu.RLock()
	r := c.current
	c.mu.RUnlock()
	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

// Stop ends the current run after its in-progress tick and waits for it.
// Stopping a stopped controller is a no-op.
func (c *Controller) Stop() error {
	c.RequestStop()
	return c.Wait()
}

// Mark asks the running mission to start averaging reference point ref.
func (c *Controller) Mark(ref string) error {
	if !c.IsRunning() {
		return ErrNotRunning
	}
	select {
	case c.marks <- ref:
		return nil
	default:
		return ErrMarkPending
	}
}

// Status reports the controller state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		Running:  c.current != nil,
		Mission:  string(c.cfg.Mission),
		RunID:    c.lastRunID,
		State:    string(c.state),
		Tick:     c.tickN,
		Ticks:    humanize.Comma(int64(c.tickN)),
		Done:     c.finished,
		Drop:     c.drop,
		RunCount: c.runCount,
	}
	if !c.startedAt.IsZero() {
		s.StartedAt = c.startedAt
		if s.Running {
			s.Uptime = strings.TrimSpace(humanize.RelTime(c.startedAt, c.cfg.Clock.Now(), "", ""))
		}
	}
	if c.fault != nil {
		s.Fault = c.fault.Error()
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Controller) loop(r *run) {
	pos := c.cfg.Topics.Position.Reader()
	rng := c.cfg.Topics.Range.Reader()
	vis := c.cfg.Topics.Vision.Reader()

	err := r.sched.Run(context.Background(), func(ctx context.Context, n uint64) error {
		return c.step(r, sensor.Inputs{
			Position: pos.PollPtr(),
			Range:    rng.PollPtr(),
			Vision:   vis.PollPtr(),
		})
	})
	if errors.Is(err, tick.ErrStopped) || errors.Is(err, errStopWhenDone) {
		err = nil
	}
	c.finish(r, err)
}

var errStopWhenDone = errors.New("mission complete")

// step runs one tick. Publisher and log failures are reported but never
// stop the loop.
func (c *Controller) step(r *run, in sensor.Inputs) error {
	m := r.machine
	c.applyMarks(m)

	out := m.Step(in)

	var errs []error
	for _, p := range c.cfg.Publishers {
		if err := p.Publish(out); err != nil {
			errs = append(errs, err)
		}
	}
	if c.cfg.Topics.Setpoint != nil {
		c.cfg.Topics.Setpoint.Publish(out)
	}
	if c.cfg.Log != nil {
		if err := c.cfg.Log.RecordTick(r.id, tickRecord(out, m.Context())); err != nil {
			errs = append(errs, err)
		}
	}
	stepErr := errors.Join(errs...)
	if stepErr != nil {
		logf("tick %d: %v", out.Tick, stepErr)
	}

	c.mu.Lock()
	c.state = m.State()
	c.tickN = out.Tick
	c.drop = out.Drop
	c.finished = m.Done()
	c.fault = m.Fault()
	if stepErr != nil {
		c.lastErr = stepErr
	}
	c.mu.Unlock()

	if c.cfg.StopWhenDone && m.Done() {
		return errStopWhenDone
	}
	return nil
}

func (c *Controller) applyMarks(m *mission.Machine) {
	for {
		select {
		case ref := <-c.marks:
			if err := m.Mark(ref); err != nil {
				logf("mark %s: %v", ref, err)
				c.mu.Lock()
				c.lastErr = err
				c.mu.Unlock()
			}
		default:
			return
		}
	}
}

func (c *Controller) finish(r *run, err error) {
	if err != nil {
		logf("run %s ended: %v", r.id, err)
	}
	if c.cfg.Log != nil {
		m := r.machine
		if logErr := c.cfg.Log.FinishRun(r.id, c.cfg.Clock.Now(), string(m.State()), m.Context().Tick, m.Fault()); logErr != nil {
			logf("failed to finish flight log: %v", logErr)
		}
	}

	c.mu.Lock()
	r.err = err
	c.current = nil
	c.notifyRunning(false)
	c.runCount++
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()
	close(r.done)
	logf("stopped %s mission run %s", c.cfg.Mission, r.id)
}

func (c *Controller) notifyRunning(running bool) {
	if c.cfg.OnRunning != nil {
		c.cfg.OnRunning(running)
	}
}

func (c *Controller) logTransition(runID string, n uint64, from, to mission.StateID, name string) {
	if c.cfg.Log == nil {
		return
	}
	if err := c.cfg.Log.RecordTransition(runID, db.TransitionRecord{Tick: n, From: string(from), To: string(to), Reason: name}); err != nil {
		logf("failed to record transition: %v", err)
	}
}

func (c *Controller) logFault(runID string, n uint64, state mission.StateID, fault error) {
	if c.cfg.Log == nil {
		return
	}
	if err := c.cfg.Log.RecordFault(runID, db.FaultRecord{Tick: n, State: string(state), Message: fault.Error()}); err != nil {
		logf("failed to record fault: %v", err)
	}
}

func tickRecord(out mission.Output, ctx *mission.Context) db.TickRecord {
	sp := out.Setpoint
	r := db.TickRecord{
		Tick:  out.Tick,
		State: string(out.State),
		Mode:  sp.Mode().String(),
		Frame: sp.Frame.String(),
		X:     sp.X,
		Y:     sp.Y,
		Z:     sp.Z,
		VX:    sp.VX,
		VY:    sp.VY,
		VZ:    sp.VZ,
		Yaw:   sp.Yaw,
		Drop:  out.Drop,
	}
	if p, ok := ctx.Filter.LastPosition(); ok {
		r.HasPosition = true
		r.PosX, r.PosY, r.PosZ = p.Position.X, p.Position.Y, p.Position.Z
	}
	return r
}
