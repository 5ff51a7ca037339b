package telemetry

const DefaultCapacity = 100

// Ring is fixed capacity FIFO of samples for live display.
// Push over capacity evicts oldest. Not safe for concurrent use.
type Ring struct {
	buf  []Sample
	head int // index of oldest
	n    int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Sample, capacity)}
}

func (self *Ring) Cap() int { return len(self.buf) }
func (self *Ring) Len() int { return self.n }

// Push returns true if oldest sample was evicted.
func (self *Ring) Push(s Sample) bool {
	c := len(self.buf)
	if self.n < c {
		self.buf[(self.head+self.n)%c] = s
		self.n++
		return false
	}
	self.buf[self.head] = s
	self.head = (self.head + 1) % c
	return true
}

// At(0) is oldest.
func (self *Ring) At(i int) Sample {
	if i < 0 || i >= self.n {
		panic("code error telemetry.Ring.At index out of range")
	}
	return self.buf[(self.head+i)%len(self.buf)]
}

func (self *Ring) Last() (Sample, bool) {
	if self.n == 0 {
		return Sample{}, false
	}
	return self.At(self.n - 1), true
}

// Samples copies content oldest to newest.
func (self *Ring) Samples() []Sample {
	out := make([]Sample, self.n)
	for i := range out {
		out[i] = self.At(i)
	}
	return out
}

// Channel copies values of one channel oldest to newest, like plot series.
func (self *Ring) Channel(ch int) []float64 {
	if ch < 0 || ch >= Channels {
		panic("code error telemetry.Ring.Channel invalid channel")
	}
	out := make([]float64, self.n)
	for i := range out {
		out[i] = self.At(i).Values[ch]
	}
	return out
}

// Axis copies x-axis values oldest to newest.
func (self *Ring) Axis(src TimeSource) []float64 {
	out := make([]float64, self.n)
	for i := range out {
		out[i] = self.At(i).Axis(src)
	}
	return out
}

func (self *Ring) Clear() {
	for i := range self.buf {
		self.buf[i] = Sample{}
	}
	self.head, self.n = 0, 0
}
