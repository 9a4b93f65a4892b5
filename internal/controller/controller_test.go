package controller

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/offboard/internal/db"
	"github.com/banshee-data/offboard/internal/mission"
	"github.com/banshee-data/offboard/internal/monitoring"
	"github.com/banshee-data/offboard/internal/sensor"
	"github.com/banshee-data/offboard/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type memoryLog struct {
	mu          sync.Mutex
	started     []string
	ticks       []db.TickRecord
	transitions []db.TransitionRecord
	faults      []db.FaultRecord
	finished    map[string]string
}

func (l *memoryLog) StartRun(m string, _ time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := m + "-" + string(rune('0'+len(l.started)))
	l.started = append(l.started, id)
	return id, nil
}

func (l *memoryLog) RecordTick(_ string, r db.TickRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, r)
	return nil
}

func (l *memoryLog) RecordTransition(_ string, r db.TransitionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, r)
	return nil
}

func (l *memoryLog) RecordFault(_ string, r db.FaultRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, r)
	return nil
}

func (l *memoryLog) FinishRun(id string, _ time.Time, state string, _ uint64, _ error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished == nil {
		l.finished = make(map[string]string)
	}
	l.finished[id] = state
	return nil
}

type harness struct {
	c       *Controller
	clock   *timeutil.MockClock
	topics  Topics
	log     *memoryLog
	mu      sync.Mutex
	outputs []mission.Output
	runs    int
}

func newHarness(t *testing.T, kind mission.Kind, stopWhenDone bool) *harness {
	t.Helper()
	h := &harness{
		clock:  timeutil.NewMockClock(time.Unix(1700000000, 0)),
		topics: NewTopics(),
		log:    &memoryLog{},
	}
	h.c = New(Config{
		Mission:  kind,
		Settings: mission.DefaultSettings(),
		Topics:   h.topics,
		Publishers: []Publisher{PublisherFunc(func(out mission.Output) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.outputs = append(h.outputs, out)
			return nil
		})},
		Log:          h.log,
		Clock:        h.clock,
		StopWhenDone: stopWhenDone,
	})
	t.Cleanup(func() {
		h.c.RequestStop()
		h.clock.Advance(time.Second)
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.Start())
	h.runs++
	require.Eventually(t, func() bool { return h.clock.Tickers() == h.runs }, time.Second, time.Millisecond)
}

// tick advances one period and waits for the loop to process it.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	before := h.c.Status().Tick
	h.clock.Advance(mission.NominalTickPeriod)
	require.Eventually(t, func() bool {
		return h.c.Status().Tick == before+1 || !h.c.IsRunning()
	}, time.Second, time.Millisecond)
}

func (h *harness) publishPosition(p r3.Vector) {
	h.topics.Position.Publish(sensor.PositionVelocitySample{Position: p, At: h.clock.Now()})
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t, mission.KindHoming, false)
	h.start(t)
	require.NoError(t, h.c.Start())
	assert.True(t, h.c.IsRunning())

	h.tick(t)
	h.tick(t)
	assert.Equal(t, 1, h.clock.Tickers(), "second Start must not spawn another loop")

	st := h.c.Status()
	assert.True(t, st.Running)
	assert.Equal(t, "homing", st.Mission)
	assert.Equal(t, uint64(2), st.Tick)
	assert.Equal(t, string(mission.HomeAcquire), st.State)
	assert.Equal(t, "homing-0", st.RunID)
	assert.NotEmpty(t, st.Uptime)
}

func TestStopEndsAfterCurrentTick(t *testing.T) {
	h := newHarness(t, mission.KindHoming, false)
	h.start(t)
	h.tick(t)

	h.c.RequestStop()
	h.clock.Advance(mission.NominalTickPeriod)
	require.NoError(t, h.c.Wait())

	st := h.c.Status()
	assert.False(t, st.Running)
	assert.Equal(t, int64(1), st.RunCount)
	// The tick in progress when the stop landed still published.
	assert.Equal(t, uint64(2), st.Tick)
	h.mu.Lock()
	assert.Len(t, h.outputs, 2)
	h.mu.Unlock()
	assert.Equal(t, string(mission.HomeAcquire), h.log.finished["homing-0"])

	// Stopping again is harmless.
	require.NoError(t, h.c.Stop())
}

func TestEveryTickPublishes(t *testing.T) {
	h := newHarness(t, mission.KindHoming, false)
	h.start(t)
	for i := 0; i < 5; i++ {
		h.tick(t)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.outputs, 5)
	for i, out := range h.outputs {
		assert.Equal(t, uint64(i+1), out.Tick)
		assert.Equal(t, mission.ModeIdle, out.Setpoint.Mode())
	}
	latest, ok := h.topics.Setpoint.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(5), latest.Tick)
	assert.Len(t, h.log.ticks, 5)
}

func TestMark(t *testing.T) {
	h := newHarness(t, mission.KindHoming, false)
	assert.ErrorIs(t, h.c.Mark(mission.RefHome), ErrNotRunning)

	h.start(t)
	require.NoError(t, h.c.Mark("nowhere"))
	h.tick(t)
	assert.Contains(t, h.c.Status().LastError, "nowhere")

	require.NoError(t, h.c.Mark(mission.RefHome))
	home := r3.Vector{X: 1, Y: 2, Z: -0.1}
	for i := 0; i < 12 && h.c.Status().State == string(mission.HomeAcquire); i++ {
		h.publishPosition(home)
		h.tick(t)
	}
	assert.Equal(t, string(mission.HomeTakeoff), h.c.Status().State)

	h.log.mu.Lock()
	defer h.log.mu.Unlock()
	require.NotEmpty(t, h.log.transitions)
	assert.Equal(t, string(mission.HomeTakeoff), h.log.transitions[0].To)
	last := h.log.ticks[len(h.log.ticks)-1]
	assert.True(t, last.HasPosition)
	assert.Equal(t, 2.0, last.PosY)
}

func TestStopWhenDoneOnAbort(t *testing.T) {
	h := newHarness(t, mission.KindAvoidance, true)
	h.start(t)

	// Home and target at the same spot cannot define a transit line.
	p := r3.Vector{X: 3, Y: 3, Z: 0}
	require.NoError(t, h.c.Mark(mission.RefHome))
	for i := 0; i < 11; i++ {
		h.publishPosition(p)
		h.tick(t)
	}
	require.NoError(t, h.c.Mark(mission.RefTarget))
	for i := 0; i < 15 && h.c.IsRunning(); i++ {
		h.publishPosition(p)
		h.tick(t)
	}

	require.NoError(t, h.c.Wait())
	st := h.c.Status()
	assert.False(t, st.Running)
	assert.True(t, st.Done)
	assert.Equal(t, string(mission.StateAbort), st.State)
	assert.NotEmpty(t, st.Fault)

	h.log.mu.Lock()
	defer h.log.mu.Unlock()
	require.Len(t, h.log.faults, 1)
	assert.Equal(t, string(mission.StateAbort), h.log.finished["avoidance-0"])
}

func TestRestartBuildsFreshMission(t *testing.T) {
	h := newHarness(t, mission.KindDelivery, false)
	h.start(t)
	h.tick(t)
	h.tick(t)
	h.c.RequestStop()
	h.clock.Advance(mission.NominalTickPeriod)
	require.NoError(t, h.c.Wait())

	h.start(t)
	h.tick(t)
	st := h.c.Status()
	assert.Equal(t, uint64(1), st.Tick)
	assert.Equal(t, "delivery-1", st.RunID)
	assert.Equal(t, int64(1), st.RunCount)
}

func TestPublisherErrorsDoNotStopLoop(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := New(Config{
		Mission:  mission.KindHoming,
		Settings: mission.DefaultSettings(),
		Topics:   NewTopics(),
		Publishers: []Publisher{PublisherFunc(func(mission.Output) error {
			return errors.New("link down")
		})},
		Clock: clock,
	})
	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	clock.Advance(mission.NominalTickPeriod)
	require.Eventually(t, func() bool { return c.Status().Tick == 1 }, time.Second, time.Millisecond)
	clock.Advance(mission.NominalTickPeriod)
	require.Eventually(t, func() bool { return c.Status().Tick == 2 }, time.Second, time.Millisecond)

	st := c.Status()
	assert.True(t, st.Running)
	assert.Contains(t, st.LastError, "link down")

	c.RequestStop()
	clock.Advance(mission.NominalTickPeriod)
	require.NoError(t, c.Wait())
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, mission.KindHoming, false)
	mux := http.NewServeMux()
	h.c.AttachAdminRoutes(mux)

	do := func(method, path string, form url.Values) *httptest.ResponseRecorder {
		var body *strings.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		} else {
			body = strings.NewReader("")
		}
		req := httptest.NewRequest(method, path, body)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.RemoteAddr = "127.0.0.1:40000"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/debug/mission/mark", url.Values{"ref": {"home"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/debug/mission/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	h.runs++
	require.Eventually(t, func() bool { return h.clock.Tickers() == 1 }, time.Second, time.Millisecond)

	rec = do(http.MethodGet, "/debug/mission/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":true`)

	rec = do(http.MethodPost, "/debug/mission/mark", url.Values{"ref": {"home"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodPost, "/debug/mission/mark", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(http.MethodGet, "/debug/mission/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Stop blocks until the next tick fires.
	done := make(chan int, 1)
	go func() { done <- do(http.MethodPost, "/debug/mission/stop", nil).Code }()
	require.Eventually(t, func() bool {
		h.clock.Advance(mission.NominalTickPeriod)
		select {
		case code := <-done:
			assert.Equal(t, http.StatusOK, code)
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.c.IsRunning())
}

// slowLog blocks StartRun until release is closed and can fail FinishRun.
type slowLog struct {
	*memoryLog
	entered   chan struct{}
	release   chan struct{}
	finishErr error
	finishes  int
}

func (l *slowLog) StartRun(m string, at time.Time) (string, error) {
	if l.entered != nil {
		close(l.entered)
		<-l.release
	}
	return l.memoryLog.StartRun(m, at)
}

func (l *slowLog) FinishRun(id string, at time.Time, state string, ticks uint64, fault error) error {
	l.mu.Lock()
	l.finishes++
	l.mu.Unlock()
	if l.finishErr != nil {
		return l.finishErr
	}
	return l.memoryLog.FinishRun(id, at, state, ticks, fault)
}

func TestStartOpensRunOutsideLock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	log := &slowLog{
		memoryLog: &memoryLog{},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c := New(Config{
		Mission:  mission.KindHoming,
		Settings: mission.DefaultSettings(),
		Topics:   NewTopics(),
		Log:      log,
		Clock:    clock,
	})

	started := make(chan error, 1)
	go func() { started <- c.Start() }()
	<-log.entered

	statusDone := make(chan Status, 1)
	go func() { statusDone <- c.Status() }()
	select {
	case st := <-statusDone:
		assert.False(t, st.Running)
	case <-time.After(time.Second):
		t.Fatal("Status blocked while the flight log was opening a run")
	}
	require.NoError(t, c.Start(), "a Start racing an opening run is a no-op")

	close(log.release)
	require.NoError(t, <-started)
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)
	assert.True(t, c.IsRunning())
	assert.Equal(t, []string{"homing-0"}, log.started)

	c.RequestStop()
	clock.Advance(mission.NominalTickPeriod)
	require.NoError(t, c.Wait())
}

func TestStartBuildFailureLogsFinishError(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	log := &slowLog{memoryLog: &memoryLog{}, finishErr: errors.New("disk full")}
	c := New(Config{
		Mission:  mission.Kind("survey"),
		Settings: mission.DefaultSettings(),
		Topics:   NewTopics(),
		Log:      log,
		Clock:    timeutil.NewMockClock(time.Unix(0, 0)),
	})

	err := c.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build survey mission")
	assert.False(t, c.IsRunning())
	assert.Equal(t, 1, log.finishes)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lines)
	assert.Contains(t, strings.Join(lines, "\n"), "failed to finish flight log for run survey-0: disk full")
}

func TestOnRunningFollowsRuns(t *testing.T) {
	var mu sync.Mutex
	var seen []bool
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := New(Config{
		Mission:  mission.KindHoming,
		Settings: mission.DefaultSettings(),
		Topics:   NewTopics(),
		Clock:    clock,
		OnRunning: func(running bool) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, running)
		},
	})

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)
	c.RequestStop()
	clock.Advance(mission.NominalTickPeriod)
	require.NoError(t, c.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
}
