package serialmux

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/banshee-data/offboard/internal/bus"
	"github.com/banshee-data/offboard/internal/monitoring"
	"github.com/banshee-data/offboard/internal/sensor"
)

var logf = monitoring.Scoped("serial")

// ErrUnknownFrame is returned for lines that are neither vision nor range
// frames.
var ErrUnknownFrame = errors.New("unknown serial frame")

// maxPixel is the largest coordinate the camera reports for a detected
// marker; anything above it means the marker was lost.
const maxPixel = 999

// ParseVision decodes a camera frame of the form X####Y####, where each
// field is four decimal digits.
func ParseVision(line string) (sensor.VisionSample, error) {
	line = strings.TrimSpace(line)
	if len(line) != 10 || line[0] != 'X' || line[5] != 'Y' {
		return sensor.VisionSample{}, fmt.Errorf("%w: %q", ErrUnknownFrame, line)
	}
	x, err := parseDigits(line[1:5])
	if err != nil {
		return sensor.VisionSample{}, fmt.Errorf("bad X field in %q: %w", line, err)
	}
	y, err := parseDigits(line[6:10])
	if err != nil {
		return sensor.VisionSample{}, fmt.Errorf("bad Y field in %q: %w", line, err)
	}
	return sensor.VisionSample{
		X:     float64(x),
		Y:     float64(y),
		Valid: x <= maxPixel && y <= maxPixel,
	}, nil
}

func parseDigits(s string) (int, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit %q", c)
		}
	}
	return strconv.Atoi(s)
}

// ParseRange decodes a range finder line of the form D<metres>.
func ParseRange(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != 'D' {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFrame, line)
	}
	d, err := strconv.ParseFloat(line[1:], 64)
	if err != nil {
		return 0, fmt.Errorf("bad distance in %q: %w", line, err)
	}
	return d, nil
}

// Decoder publishes decoded frames onto the sensor topics.
type Decoder struct {
	Vision *bus.Topic[sensor.VisionSample]
	Range  *bus.Topic[sensor.RangeSample]

	// RangeMin and RangeMax are the valid measuring interval reported with
	// every range sample.
	RangeMin float64
	RangeMax float64

	decoded atomic.Int64
	dropped atomic.Int64
}

// NewDecoder returns a decoder for the given topics with the range finder
// interval defaulted to [0.2, 8] metres.
func NewDecoder(vision *bus.Topic[sensor.VisionSample], rng *bus.Topic[sensor.RangeSample]) *Decoder {
	return &Decoder{Vision: vision, Range: rng, RangeMin: 0.2, RangeMax: 8}
}

// Handle decodes one line. Lines for topics the decoder has no topic for
// are ignored.
func (d *Decoder) Handle(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	switch line[0] {
	case 'X':
		v, err := ParseVision(line)
		if err != nil {
			return err
		}
		if d.Vision != nil {
			d.Vision.Publish(v)
		}
	case 'D':
		dist, err := ParseRange(line)
		if err != nil {
			return err
		}
		if d.Range != nil {
			d.Range.Publish(sensor.RangeSample{Distance: dist, MinValid: d.RangeMin, MaxValid: d.RangeMax})
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrame, line)
	}
	return nil
}

// Consume decodes lines until the channel closes or ctx ends. Malformed
// lines are logged and skipped.
func (d *Decoder) Consume(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := d.Handle(line); err != nil {
				d.dropped.Add(1)
				logf("dropping line: %v", err)
				continue
			}
			d.decoded.Add(1)
		}
	}
}

// Run subscribes to mux and consumes its lines.
func (d *Decoder) Run(ctx context.Context, mux SerialMuxInterface) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	return d.Consume(ctx, lines)
}

// Counts returns how many lines were decoded and dropped.
func (d *Decoder) Counts() (decoded, dropped int64) {
	return d.decoded.Load(), d.dropped.Load()
}
