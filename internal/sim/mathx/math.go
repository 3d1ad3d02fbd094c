package mathx

import "math"

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// Unit maps a hash to [0,1) using its top 53 bits.
func Unit(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Clamp01(v float64) float64 { return Clamp(v, 0, 1) }

func Lerp(a, b, t float64) float64 { return a + (b-a)*t }

// BiLerp interpolates four corners given in order (x0z0, x1z0, x0z1, x1z1).
func BiLerp(c0, c1, c2, c3, tx, tz float64) float64 {
	return Lerp(Lerp(c0, c1, tx), Lerp(c2, c3, tx), tz)
}

// FloorToInt is math.Floor for region coordinates; NaN maps to 0.
func FloorToInt(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Floor(v))
}
