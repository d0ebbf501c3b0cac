package interpolation

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// SphereDirections returns n quasi-uniform unit directions on the upper
// hemisphere (z > 0) laid out on a Fibonacci lattice. Orientation
// responses are antipodally symmetric, so a hemisphere covers the sphere.
func SphereDirections(n int) []r3.Vec {
	dirs := make([]r3.Vec, n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - (float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		phi := float64(i) * golden
		dirs[i] = r3.Vec{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z}
	}
	return dirs
}

// ray is a unit sampling direction or its antipode. slot is the index of
// the response value it samples.
type ray struct {
	c    [3]float64
	slot int
}

func newRay(v r3.Vec, slot int) ray {
	return ray{c: [3]float64{v.X, v.Y, v.Z}, slot: slot}
}

func (r ray) vec() r3.Vec { return r3.Vec{X: r.c[0], Y: r.c[1], Z: r.c[2]} }

func (r ray) Compare(c kdtree.Comparable, d kdtree.Dim) float64 { return r.c[d] - c.(ray).c[d] }
func (r ray) Dims() int                                         { return len(r.c) }

// Distance is the squared chord length between two rays
func (r ray) Distance(c kdtree.Comparable) float64 {
	o := c.(ray)
	var sum float64
	for i := range r.c {
		diff := r.c[i] - o.c[i]
		sum += diff * diff
	}
	return sum
}

type rayBundle []ray

func (b rayBundle) Index(i int) kdtree.Comparable         { return b[i] }
func (b rayBundle) Len() int                              { return len(b) }
func (b rayBundle) Slice(start, end int) kdtree.Interface { return b[start:end] }

func (b rayBundle) Pivot(d kdtree.Dim) int {
	s := sortedAlong{rays: b, d: d}
	return kdtree.Partition(s, kdtree.MedianOfMedians(s))
}

// sortedAlong orders rays by coordinate d
type sortedAlong struct {
	rays rayBundle
	d    kdtree.Dim
}

func (s sortedAlong) Len() int           { return len(s.rays) }
func (s sortedAlong) Less(i, j int) bool { return s.rays[i].c[s.d] < s.rays[j].c[s.d] }
func (s sortedAlong) Swap(i, j int)      { s.rays[i], s.rays[j] = s.rays[j], s.rays[i] }

func (s sortedAlong) Slice(start, end int) kdtree.SortSlicer {
	return sortedAlong{rays: s.rays[start:end], d: s.d}
}

// antipodalTree indexes every sampling direction together with its
// antipode so that nearest-direction queries respect axial symmetry.
func antipodalTree(dirs []r3.Vec) *kdtree.Tree {
	rays := make(rayBundle, 0, 2*len(dirs))
	for i, d := range dirs {
		u := r3.Unit(d)
		rays = append(rays, newRay(u, i), newRay(r3.Scale(-1, u), i))
	}
	return kdtree.New(rays, false)
}

// binCenter returns the unit direction at the centre of the (theta, phi) bin
func binCenter(ti, pj, resolution int) r3.Vec {
	step := math.Pi / float64(resolution)
	theta := (float64(ti) + 0.5) * step
	phi := (float64(pj) + 0.5) * step
	return r3.Vec{
		X: math.Sin(theta) * math.Cos(phi),
		Y: math.Sin(theta) * math.Sin(phi),
		Z: math.Cos(theta),
	}
}

// binIndex maps a unit direction to its flat table row. theta spans
// [0, pi] in resolution bins, phi spans [0, 2pi) in 2*resolution bins.
func binIndex(dir r3.Vec, resolution int) int {
	z := dir.Z
	if z > 1 {
		z = 1
	} else if z < -1 {
		z = -1
	}
	theta := math.Acos(z)
	phi := math.Atan2(dir.Y, dir.X)
	if phi < 0 {
		phi += 2 * math.Pi
	}

	step := math.Pi / float64(resolution)
	ti := int(theta / step)
	if ti >= resolution {
		ti = resolution - 1
	}
	pj := int(phi/step) % (2 * resolution)
	return ti*2*resolution + pj
}
