// Package fiber turns the connection graph of a particle field into
// polylines.
package fiber

import (
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"gibbstrack/internal/models"
	"gibbstrack/pkg/particles"
)

// Build walks every chain of the field once and returns the polylines
// whose path length is at least minLength.
//
// Open chains run from one outer endpoint through the particle centres to
// the other outer endpoint. Closed chains start and end at the same
// centre. The field is only read; callers running a sampler concurrently
// must synchronize access themselves.
func Build(pf *particles.Field, minLength float64) []models.Polyline {
	visited := make([]bool, pf.IDLimit())
	var fibers []models.Polyline

	keep := func(line models.Polyline) {
		if line.Length >= minLength {
			fibers = append(fibers, line)
		}
	}

	for _, id := range pf.Particles() {
		if visited[id] || pf.Degree(id) > 1 {
			continue
		}
		keep(walkOpen(pf, id, visited))
	}

	// Whatever is left belongs to closed chains
	for _, id := range pf.Particles() {
		if visited[id] {
			continue
		}
		keep(walkClosed(pf, id, visited))
	}
	return fibers
}

func center(pf *particles.Field, id particles.ID) r3.Vec {
	p, _ := pf.Particle(id)
	return p.Pos
}

func walkOpen(pf *particles.Field, start particles.ID, visited []bool) models.Polyline {
	free := particles.Minus
	if pf.ConnectionIndex(start, particles.Minus) >= 0 {
		free = particles.Plus
	}

	points := []r3.Vec{pf.Endpoint(start, free), center(pf, start)}
	var weights []float64
	visited[start] = true

	current, leaving := start, free.Other()
	for {
		ci := pf.ConnectionIndex(current, leaving)
		if ci < 0 {
			break
		}
		next, nextEnd, _ := pf.Partner(current, leaving)
		if visited[next] {
			break
		}
		visited[next] = true
		weights = append(weights, pf.Connection(ci).Weight)
		points = append(points, center(pf, next))
		current, leaving = next, nextEnd.Other()
	}
	points = append(points, pf.Endpoint(current, leaving))

	return polyline(points, len(weights)+1, weights, false)
}

func walkClosed(pf *particles.Field, start particles.ID, visited []bool) models.Polyline {
	points := []r3.Vec{center(pf, start)}
	var weights []float64
	visited[start] = true

	current, leaving := start, particles.Plus
	count := 1
	for {
		ci := pf.ConnectionIndex(current, leaving)
		if ci < 0 {
			break
		}
		next, nextEnd, _ := pf.Partner(current, leaving)
		weights = append(weights, pf.Connection(ci).Weight)
		points = append(points, center(pf, next))
		if next == start || visited[next] {
			break
		}
		visited[next] = true
		count++
		current, leaving = next, nextEnd.Other()
	}
	return polyline(points, count, weights, true)
}

func polyline(points []r3.Vec, n int, weights []float64, closed bool) models.Polyline {
	line := models.Polyline{
		Points:    points,
		Length:    models.PathLength(points),
		Particles: n,
		Closed:    closed,
	}
	if len(weights) > 0 {
		line.Quality = stat.Mean(weights, nil)
	}
	return line
}
