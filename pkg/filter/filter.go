package filter

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultSize is the window capacity used when none is configured.
const DefaultSize = 8

// Kind selects the aggregate computed over the window.
type Kind uint8

const (
	MovingAverage Kind = iota
	Median
)

func (k Kind) String() string {
	switch k {
	case MovingAverage:
		return "average"
	case Median:
		return "median"
	default:
		return fmt.Sprintf("filter(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind parses "average" (or "mean") and "median".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "average", "mean", "moving-average":
		return MovingAverage, nil
	case "median":
		return Median, nil
	}
	return 0, fmt.Errorf("unknown filter %q", s)
}

// Window smooths a stream of samples over a fixed-size ring.
type Window struct {
	kind   Kind
	ring   *Ring
	sorted []float32
}

// New creates a window of the given size pre-filled with init.
// Sizes below 1 fall back to DefaultSize.
func New(kind Kind, size int, init float32) *Window {
	if size < 1 {
		size = DefaultSize
	}
	return &Window{
		kind:   kind,
		ring:   NewRing(size, init),
		sorted: make([]float32, size),
	}
}

// Kind returns the window algorithm.
func (w *Window) Kind() Kind {
	return w.kind
}

// Size returns the window capacity.
func (w *Window) Size() int {
	return w.ring.Len()
}

// Push stores v in the window and returns the freshly computed aggregate.
func (w *Window) Push(v float32) float32 {
	w.ring.Push(v)
	return w.Value()
}

// Value returns the aggregate of the current window without modifying it.
func (w *Window) Value() float32 {
	switch w.kind {
	case Median:
		w.sorted = w.ring.Values(w.sorted)
		return median(w.sorted)
	default:
		return mean(w.ring.data)
	}
}

func mean(values []float32) float32 {
	var sum float32
	for _, v := range values {
		sum += v
	}
	return sum / float32(len(values))
}

// median sorts values in place. For even lengths it averages the elements at
// n/2 and n/2+1, not the textbook n/2-1 and n/2; deployed probe calibrations
// were made against this. The upper index is clamped for n == 2.
func median(values []float32) float32 {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	n := len(values)
	if n%2 != 0 {
		return values[n/2]
	}

	hi := n/2 + 1
	if hi > n-1 {
		hi = n - 1
	}
	return (values[n/2] + values[hi]) / 2
}
