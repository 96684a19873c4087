package floorfix

import "math"

// wrapAngle maps a into (-pi, pi].
func wrapAngle(a float64) float64 {
	a = math.Remainder(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// circularMean is an online mean of angles. Each sample is folded in relative
// to the current mean, so samples straddling the +-pi seam average correctly
// and no sample history is kept.
type circularMean struct {
	mean float64
	n    int
}

func (c *circularMean) Add(theta float64) {
	c.n++
	if c.n == 1 {
		c.mean = wrapAngle(theta)
		return
	}
	diff := wrapAngle(theta - c.mean)
	c.mean = wrapAngle(c.mean + diff/float64(c.n))
}

func (c *circularMean) Mean() float64 { return c.mean }

func (c *circularMean) Count() int { return c.n }
