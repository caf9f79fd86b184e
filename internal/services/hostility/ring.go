package hostility

// ring is a fixed-size window of win/loss outcomes.
type ring struct {
	buf    []bool
	next   int
	filled int
}

func newRing(size int) *ring {
	if size < 1 {
		size = 1
	}
	return &ring{buf: make([]bool, size)}
}

func (r *ring) push(win bool) {
	r.buf[r.next] = win
	r.next = (r.next + 1) % len(r.buf)
	if r.filled < len(r.buf) {
		r.filled++
	}
}

func (r *ring) full() bool { return r.filled == len(r.buf) }

func (r *ring) rate() float64 {
	if r.filled == 0 {
		return 0
	}
	wins := 0
	for i := 0; i < r.filled; i++ {
		if r.buf[i] {
			wins++
		}
	}
	return float64(wins) / float64(r.filled)
}

func (r *ring) reset() {
	r.next = 0
	r.filled = 0
}
