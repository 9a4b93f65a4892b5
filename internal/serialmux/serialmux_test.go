package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func recv(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(time.Second):
		t.Fatal("no line received")
		return ""
	}
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(newFakePort())

	id, ch := mux.Subscribe()
	require.NotEmpty(t, id)
	assert.Len(t, mux.subscribers, 1)

	mux.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Empty(t, mux.subscribers)

	// Unknown ids are ignored.
	mux.Unsubscribe("nope")
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("M1"))
	require.NoError(t, mux.SendCommand("M2\n"))
	assert.Equal(t, "M1\nM2\n", port.written())
}

func TestSerialMux_SendCommand_WriteError(t *testing.T) {
	port := newFakePort()
	port.writeErr = errors.New("unplugged")
	mux := NewSerialMux(port)

	assert.EqualError(t, mux.SendCommand("M1"), "unplugged")
}

func TestSerialMux_MonitorFanOut(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()
	port.feed("X0001Y0002\nD1.0\n")

	for _, ch := range []chan string{a, b} {
		assert.Equal(t, "X0001Y0002", recv(t, ch))
		assert.Equal(t, "D1.0", recv(t, ch))
	}
	assert.Equal(t, int64(2), mux.lines.Load())

	port.Close()
	assert.ErrorIs(t, <-done, errPortClosed)
}

func TestSerialMux_SlowSubscriberDropsLines(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()
	port.feed(strings.Repeat("D1.0\n", subscriberBuffer+4))

	require.Eventually(t, func() bool {
		return mux.dropped.Load() == 4
	}, time.Second, time.Millisecond)
	assert.Equal(t, int64(subscriberBuffer+4), mux.lines.Load())
	assert.Len(t, ch, subscriberBuffer)

	port.Close()
	<-done
}

func TestSerialMux_MonitorReadError(t *testing.T) {
	port := newFakePort()
	port.fail(errors.New("framing error"))
	mux := NewSerialMux(port)

	assert.EqualError(t, mux.Monitor(context.Background()), "framing error")
}

func TestSerialMux_MonitorContextCancel(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	mux.Close()
}

func TestSerialMux_Close(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	assert.True(t, port.isClosed())
	_, ok := <-ch
	assert.False(t, ok)
}

func debugDo(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSerialMux_AdminRoutes(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"M3"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/serial/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := debugDo(httpMux, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "M3\n", port.written())

	rec = debugDo(httpMux, httptest.NewRequest(http.MethodGet, "/debug/serial/send", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = debugDo(httpMux, httptest.NewRequest(http.MethodGet, "/debug/serial/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["enabled"])
	assert.Equal(t, 0.0, status["lines"])
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux("no device")
	_, ch := d.Subscribe()
	assert.NoError(t, d.SendCommand("M1"))

	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)
	rec := debugDo(httpMux, httptest.NewRequest(http.MethodGet, "/debug/serial/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false,"reason":"no device"}`, rec.Body.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)

	require.NoError(t, d.Close())
	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, d.Close())

	// Subscribing after Close hands back a closed channel.
	_, late := d.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, opts)
	assert.Equal(t, "9600 8N1", opts.String())

	opts, err = PortOptions{BaudRate: 57600, Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{Parity: "O", StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.OddParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
}
