package models

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Polyline is one reconstructed fiber: an ordered sequence of points
// in physical (mm) coordinates.
type Polyline struct {
	// Points are the ordered vertices of the fiber
	Points []r3.Vec

	// Length is the summed segment length of Points
	Length float64

	// Particles is the number of particles the chain was built from
	Particles int

	// Quality is the mean weight of the connections along the chain
	// (0 for a single unconnected particle)
	Quality float64

	// Closed is set when the chain forms a loop; the first point is
	// then repeated at the end.
	Closed bool
}

// PathLength returns the summed distance between consecutive points
func PathLength(points []r3.Vec) float64 {
	var length float64
	for i := 1; i < len(points); i++ {
		length += r3.Norm(r3.Sub(points[i], points[i-1]))
	}
	return length
}

// RoundStats summarizes one outer annealing round.
type RoundStats struct {
	Round           int     `csv:"round"`
	Temperature     float64 `csv:"temperature"`
	Iterations      int64   `csv:"iterations"`
	Particles       int     `csv:"particles"`
	Connections     int     `csv:"connections"`
	Considered      int64   `csv:"considered"`
	Accepted        int64   `csv:"accepted"`
	AcceptanceRatio float64 `csv:"acceptance_ratio"`

	// Energy is the field energy at the end of the round, relative to the
	// empty field.
	Energy float64 `csv:"energy"`

	// MeanAcceptedDelta is the mean energy change of accepted proposals
	MeanAcceptedDelta float64 `csv:"mean_accepted_delta"`
}

// RunStats holds the statistics reported at the end of a tracking run.
type RunStats struct {
	Particles       int
	Connections     int
	Fibers          int
	Considered      int64
	Accepted        int64
	AcceptanceRatio float64

	// Weight is the data-fit weight used by the run (calibrated or given)
	Weight float64

	// Seed is the random seed the run was started with
	Seed int64

	Rounds   int
	Duration time.Duration
}
