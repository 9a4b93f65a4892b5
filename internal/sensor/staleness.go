package sensor

// Staleness counts consecutive ticks without a usable sample on one topic.
type Staleness struct {
	Limit int
	count int
}

// Miss records a tick with no fresh value or with an invalid sample.
func (s *Staleness) Miss() {
	s.count++
}

// Fresh records a valid sample.
func (s *Staleness) Fresh() {
	s.count = 0
}

// Count is the number of consecutive misses.
func (s *Staleness) Count() int { return s.count }

// Useful reports whether data on the topic may still be acted on.
func (s *Staleness) Useful() bool {
	return s.count <= s.Limit
}
