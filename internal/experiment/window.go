package experiment

// Point is one plotted (elapsed seconds, count) pair.
type Point struct {
	Elapsed float64 `json:"t"`
	Count   int     `json:"n"`
}

// window keeps the most recent points for the live plot, dropping the oldest.
type window struct {
	cnt, i int
	data   []Point
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{data: make([]Point, size)}
}

func (w *window) Len() int {
	return w.cnt
}

func (w *window) Push(p Point) {
	if w.cnt == len(w.data) {
		w.data[w.i] = p
		w.i = (w.i + 1) % len(w.data)
		return
	}
	w.data[(w.i+w.cnt)%len(w.data)] = p
	w.cnt++
}

// Points returns the contents oldest first.
func (w *window) Points() []Point {
	out := make([]Point, w.cnt)
	for k := 0; k < w.cnt; k++ {
		out[k] = w.data[(w.i+k)%len(w.data)]
	}
	return out
}
