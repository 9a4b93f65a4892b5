package mavlink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/banshee-data/offboard/internal/bus"
	"github.com/banshee-data/offboard/internal/mission"
	"github.com/banshee-data/offboard/internal/monitoring"
	"github.com/banshee-data/offboard/internal/sensor"
	"github.com/banshee-data/offboard/internal/timeutil"
)

var logf = monitoring.Scoped("mavlink")

// ParseEndpoint turns "kind:address" into a gomavlib endpoint. Supported
// kinds are udp-server, udp-client, tcp-server, tcp-client and serial; the
// serial form is serial:/dev/ttyACM0:57600.
func ParseEndpoint(s string) (gomavlib.EndpointConf, error) {
	kind, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return nil, fmt.Errorf("invalid mavlink endpoint %q: want kind:address", s)
	}
	switch kind {
	case "udp", "udp-server":
		return gomavlib.EndpointUDPServer{Address: addr}, nil
	case "udp-client":
		return gomavlib.EndpointUDPClient{Address: addr}, nil
	case "tcp-server":
		return gomavlib.EndpointTCPServer{Address: addr}, nil
	case "tcp-client":
		return gomavlib.EndpointTCPClient{Address: addr}, nil
	case "serial":
		device, baudText, ok := strings.Cut(addr, ":")
		baud := 57600
		if ok {
			b, err := strconv.Atoi(baudText)
			if err != nil || b <= 0 {
				return nil, fmt.Errorf("invalid baud rate in %q", s)
			}
			baud = b
		}
		return gomavlib.EndpointSerial{Device: device, Baud: baud}, nil
	}
	return nil, fmt.Errorf("unknown mavlink endpoint kind %q", kind)
}

// Config configures a Bridge.
type Config struct {
	Endpoint string
	SystemID int
	Target   Target
}

// Sink receives decoded telemetry; the bus topics in production.
type Sink struct {
	Position *bus.Topic[sensor.PositionVelocitySample]
	Range    *bus.Topic[sensor.RangeSample]
}

// Handle routes one incoming message. Only forward-facing distance sensors
// feed the range topic.
func (s Sink) Handle(msg message.Message, at time.Time) {
	switch m := msg.(type) {
	case *common.MessageLocalPositionNed:
		if s.Position != nil {
			s.Position.Publish(PositionSample(m, at))
		}
	case *common.MessageDistanceSensor:
		if s.Range != nil && m.Orientation == common.MAV_SENSOR_ROTATION_NONE {
			s.Range.Publish(RangeSample(m))
		}
	}
}

// writeFunc sends a message on every open channel.
type writeFunc func(message.Message) error

// Bridge owns the MAVLink node.
type Bridge struct {
	node   *gomavlib.Node
	write  writeFunc
	sink   Sink
	target Target
	clock  timeutil.Clock
	boot   time.Time

	mu       sync.Mutex
	dropping bool
	sent     uint64
}

// NewBridge opens the endpoint described by cfg.
func NewBridge(cfg Config, sink Sink) (*Bridge, error) {
	ep, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	systemID := cfg.SystemID
	if systemID <= 0 || systemID > 255 {
		systemID = 10
	}
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{ep},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: byte(systemID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start mavlink node: %w", err)
	}
	write := func(m message.Message) error {
		node.WriteMessageAll(m)
		return nil
	}
	b := newBridge(write, sink, cfg.Target, timeutil.RealClock{})
	b.node = node
	return b, nil
}

func newBridge(write writeFunc, sink Sink, target Target, clock timeutil.Clock) *Bridge {
	if target.System == 0 {
		target.System = 1
	}
	if target.Component == 0 {
		target.Component = 1
	}
	return &Bridge{
		write:  write,
		sink:   sink,
		target: target,
		clock:  clock,
		boot:   clock.Now(),
	}
}

// Run reads node events until ctx ends or the node closes.
func (b *Bridge) Run(ctx context.Context) error {
	if b.node == nil {
		return fmt.Errorf("bridge has no node")
	}
	events := b.node.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			switch e := evt.(type) {
			case *gomavlib.EventFrame:
				b.sink.Handle(e.Message(), b.clock.Now())
			case *gomavlib.EventChannelOpen:
				logf("channel open: %v", e.Channel)
			case *gomavlib.EventChannelClose:
				logf("channel closed: %v", e.Channel)
			case *gomavlib.EventParseError:
				logf("parse error: %v", e.Error)
			}
		}
	}
}

// Publish sends one tick's setpoint, and a gripper command whenever the
// drop signal changes.
func (b *Bridge) Publish(out mission.Output) error {
	bootMs := uint32(b.clock.Since(b.boot) / time.Millisecond)
	if err := b.write(SetpointMessage(out.Setpoint, b.target, bootMs)); err != nil {
		return fmt.Errorf("failed to write setpoint: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent++
	if out.Drop != b.dropping {
		b.dropping = out.Drop
		if err := b.write(GripperMessage(out.Drop, b.target)); err != nil {
			return fmt.Errorf("failed to write gripper command: %w", err)
		}
	}
	return nil
}

// Sent returns the number of setpoints written.
func (b *Bridge) Sent() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

func (b *Bridge) Close() {
	if b.node != nil {
		b.node.Close()
	}
}
