package bus

// An IDGenerator hands out transaction IDs. IDs increase monotonically,
// wrap around, and are never zero.
type IDGenerator struct {
	last uint32
}

// NewIDGenerator creates a generator whose first ID is 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns a fresh ID.
func (g *IDGenerator) Next() uint32 {
	g.last++
	if g.last == 0 {
		g.last++
	}

	return g.last
}

// Seed makes the next ID the one following last.
func (g *IDGenerator) Seed(last uint32) {
	g.last = last
}

// Reset restarts the sequence at 1.
func (g *IDGenerator) Reset() {
	g.last = 0
}
