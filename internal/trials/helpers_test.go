package trials

// scriptedRand replays fixed draws so tests can pin exact branches.
type scriptedRand struct {
	floats []float64
	norms  []float64
	ints   []int
}

func (r *scriptedRand) Float64() float64 {
	if len(r.floats) == 0 {
		panic("scriptedRand: out of Float64 values")
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

func (r *scriptedRand) NormFloat64() float64 {
	if len(r.norms) == 0 {
		panic("scriptedRand: out of NormFloat64 values")
	}
	v := r.norms[0]
	r.norms = r.norms[1:]
	return v
}

func (r *scriptedRand) IntN(n int) int {
	if len(r.ints) == 0 {
		panic("scriptedRand: out of IntN values")
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v % n
}
