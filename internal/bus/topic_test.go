package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopic_PollSeesOnlyNewValues(t *testing.T) {
	t.Parallel()

	topic := NewTopic[int]("range")
	r := topic.Reader()

	_, ok := r.Poll()
	assert.False(t, ok)

	topic.Publish(1)
	topic.Publish(2)
	v, ok := r.Poll()
	assert.True(t, ok)
	assert.Equal(t, 2, v, "latest value wins")

	_, ok = r.Poll()
	assert.False(t, ok, "a value is delivered once per reader")
	assert.Nil(t, r.PollPtr())

	other := topic.Reader()
	topic.Publish(3)
	assert.Equal(t, 3, *r.PollPtr())
	assert.Equal(t, 3, *other.PollPtr())

	latest, ok := topic.Latest()
	assert.True(t, ok)
	assert.Equal(t, 3, latest)
	assert.Equal(t, "range", topic.Name())
}

func TestTopic_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	topic := NewTopic[[3]float64]("position")
	r := topic.Reader()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				f := float64(i*1000 + j)
				topic.Publish([3]float64{f, f, f})
			}
		}(i)
	}
	wg.Wait()

	v, ok := r.Poll()
	assert.True(t, ok)
	assert.Equal(t, v[0], v[1], "values are never torn")
	assert.Equal(t, v[1], v[2])
}
