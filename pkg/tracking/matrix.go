package tracking

import (
	"math"

	"github.com/golang/geo/r3"
)

// Matrix34 is a row-major 3x4 rigid transform: a 3x3 rotation block followed
// by a translation column. It matches the HmdMatrix34_t layout, so m[1][3] is
// the OpenVR m7 element and m[1][0], m[1][1] are m4 and m5.
type Matrix34 [3][4]float64

// Identity returns the identity transform.
func Identity() Matrix34 {
	return Matrix34{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
}

// Column returns column i (0..3) as a vector.
func (m Matrix34) Column(i int) r3.Vector {
	return r3.Vector{X: m[0][i], Y: m[1][i], Z: m[2][i]}
}

// SetColumn replaces column i (0..3).
func (m *Matrix34) SetColumn(i int, v r3.Vector) {
	m[0][i] = v.X
	m[1][i] = v.Y
	m[2][i] = v.Z
}

// Translation is the position of the transform's origin.
func (m Matrix34) Translation() r3.Vector {
	return m.Column(3)
}

// Up is the transform's local +Y axis expressed in the parent space.
func (m Matrix34) Up() r3.Vector {
	return m.Column(1)
}

// Height is the vertical coordinate of the origin.
func (m Matrix34) Height() float64 {
	return m[1][3]
}

// Roll is the tilt about the forward axis, atan2(m4, m5).
func (m Matrix34) Roll() float64 {
	return math.Atan2(m[1][0], m[1][1])
}

// Translate moves the origin by d in the parent space.
func (m Matrix34) Translate(d r3.Vector) Matrix34 {
	m.SetColumn(3, m.Translation().Add(d))
	return m
}

// FromAxes builds a transform from its local X, Y, Z axes and a translation.
func FromAxes(x, y, z, t r3.Vector) Matrix34 {
	var m Matrix34
	m.SetColumn(0, x)
	m.SetColumn(1, y)
	m.SetColumn(2, z)
	m.SetColumn(3, t)
	return m
}

// FromRollHeight builds the pose of a controller lying level with the given
// roll about the forward (-Z) axis, placed at (x, height, z).
func FromRollHeight(roll, x, height, z float64) Matrix34 {
	s, c := math.Sincos(roll)
	return FromAxes(
		r3.Vector{X: c, Y: s},
		r3.Vector{X: -s, Y: c},
		r3.Vector{Z: 1},
		r3.Vector{X: x, Y: height, Z: z},
	)
}

// IsRigid reports whether the rotation block is orthonormal within tol.
func (m Matrix34) IsRigid(tol float64) bool {
	x, y, z := m.Column(0), m.Column(1), m.Column(2)
	for _, n := range []float64{x.Norm(), y.Norm(), z.Norm()} {
		if math.Abs(n-1) > tol {
			return false
		}
	}
	for _, d := range []float64{x.Dot(y), y.Dot(z), z.Dot(x)} {
		if math.Abs(d) > tol {
			return false
		}
	}
	// Reject reflections.
	return x.Cross(y).Dot(z) > 0
}
