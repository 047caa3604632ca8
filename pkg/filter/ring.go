package filter

// Ring is a fixed-capacity circular buffer of samples. It is created full:
// every slot holds the initial value, and each Push overwrites the oldest slot.
type Ring struct {
	data   []float32
	cursor int
}

// NewRing creates a ring of the given capacity pre-filled with init.
// Capacities below 1 are raised to 1.
func NewRing(capacity int, init float32) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring{data: make([]float32, capacity)}
	r.Fill(init)
	return r
}

// Push overwrites the slot under the write cursor and advances it.
func (r *Ring) Push(v float32) {
	r.data[r.cursor] = v
	r.cursor++
	if r.cursor >= len(r.data) {
		r.cursor = 0
	}
}

// Fill sets every slot to v and rewinds the cursor.
func (r *Ring) Fill(v float32) {
	for i := range r.data {
		r.data[i] = v
	}
	r.cursor = 0
}

// Len returns the capacity, which is also the logical size.
func (r *Ring) Len() int {
	return len(r.data)
}

// Values copies the ring contents in storage order into dst and returns it.
// A new slice is allocated if dst is too small.
func (r *Ring) Values(dst []float32) []float32 {
	if cap(dst) < len(r.data) {
		dst = make([]float32, len(r.data))
	}
	dst = dst[:len(r.data)]
	copy(dst, r.data)
	return dst
}
