package sampler

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/pkg/particles"
)

// rotationSigma is the standard deviation of the direction perturbation
const rotationSigma = 0.25

// candidate is a free endpoint a proposed connection may attach to
type candidate struct {
	id  particles.ID
	end particles.End
}

// apply turns a mutation error into the sampler's error policy: capacity
// overflow is fatal, anything else rejects the proposal.
func apply(err error, out *Outcome) error {
	if err == nil {
		return nil
	}
	out.Accepted = false
	if errors.Is(err, particles.ErrBucketCapacity) {
		return err
	}
	return nil
}

func (s *Sampler) randomDirection() r3.Vec {
	for {
		v := r3.Vec{X: s.rng.NormFloat64(), Y: s.rng.NormFloat64(), Z: s.rng.NormFloat64()}
		if n := r3.Norm(v); n > 1e-12 {
			return r3.Scale(1/n, v)
		}
	}
}

func (s *Sampler) proposeBirth(temperature float64, out *Outcome) error {
	of := s.model.Orientation()
	voxels := of.InsideVoxels()
	if len(voxels) == 0 {
		return nil
	}
	x, y, z := of.VoxelCoords(voxels[s.rng.Intn(len(voxels))])
	pos := r3.Vec{
		X: (float64(x) + s.rng.Float64()) * of.Spacing.X,
		Y: (float64(y) + s.rng.Float64()) * of.Spacing.Y,
		Z: (float64(z) + s.rng.Float64()) * of.Spacing.Z,
	}
	dir := s.randomDirection()

	out.Accepted = s.evaluate(s.model.Birth(pos, dir).Total(), temperature, out)
	if !out.Accepted {
		return nil
	}
	id, err := s.field.Insert(pos, dir)
	out.Particle = id
	return apply(err, out)
}

func (s *Sampler) proposeDeath(temperature float64, out *Outcome) error {
	id, ok := s.field.RandomParticle(s.rng)
	if !ok {
		return nil
	}
	out.Particle = id
	// Only isolated particles may die
	if s.field.Degree(id) > 0 {
		return nil
	}

	out.Accepted = s.evaluate(s.model.Death(id).Total(), temperature, out)
	if !out.Accepted {
		return nil
	}
	return apply(s.field.Remove(id), out)
}

func (s *Sampler) proposeShift(temperature float64, out *Outcome) error {
	id, ok := s.field.RandomParticle(s.rng)
	if !ok {
		return nil
	}
	out.Particle = id
	p, _ := s.field.Particle(id)
	sigma := s.field.Length() / 4
	pos := r3.Add(p.Pos, r3.Vec{
		X: s.rng.NormFloat64() * sigma,
		Y: s.rng.NormFloat64() * sigma,
		Z: s.rng.NormFloat64() * sigma,
	})

	out.Accepted = s.evaluate(s.model.Shift(id, pos).Total(), temperature, out)
	if !out.Accepted {
		return nil
	}
	if err := apply(s.field.Move(id, pos), out); err != nil || !out.Accepted {
		return err
	}
	s.refreshWeights(id)
	return nil
}

func (s *Sampler) proposeRotate(temperature float64, out *Outcome) error {
	id, ok := s.field.RandomParticle(s.rng)
	if !ok {
		return nil
	}
	out.Particle = id
	p, _ := s.field.Particle(id)
	dir := r3.Add(p.Dir, r3.Vec{
		X: s.rng.NormFloat64() * rotationSigma,
		Y: s.rng.NormFloat64() * rotationSigma,
		Z: s.rng.NormFloat64() * rotationSigma,
	})
	n := r3.Norm(dir)
	if n < 1e-12 {
		return nil
	}
	dir = r3.Scale(1/n, dir)

	out.Accepted = s.evaluate(s.model.Rotate(id, dir).Total(), temperature, out)
	if !out.Accepted {
		return nil
	}
	if err := apply(s.field.SetDir(id, dir), out); err != nil || !out.Accepted {
		return err
	}
	s.refreshWeights(id)
	return nil
}

// refreshWeights recomputes the weights of the connections of id after it
// moved or turned
func (s *Sampler) refreshWeights(id particles.ID) {
	for _, e := range []particles.End{particles.Minus, particles.Plus} {
		ci := s.field.ConnectionIndex(id, e)
		if ci < 0 {
			continue
		}
		c := s.field.Connection(ci)
		s.field.SetWeight(ci, s.model.ConnectionWeight(c.A, c.AEnd, c.B, c.BEnd))
	}
}

func (s *Sampler) proposeConnect(temperature float64, out *Outcome) error {
	id, ok := s.field.RandomParticle(s.rng)
	if !ok {
		return nil
	}
	out.Particle = id
	end := particles.End(s.rng.Intn(2))
	p, _ := s.field.Particle(id)
	if p.Linked(end) {
		return nil
	}

	tip := s.field.Endpoint(id, end)
	half := s.field.HalfLength()
	s.scratch = s.field.NeighborsWithinRadius(tip, s.field.Length(), s.scratch)
	s.candidates = s.candidates[:0]
	for _, q := range s.scratch {
		if q == id || s.field.Connected(id, q) {
			continue
		}
		minus := r3.Norm(r3.Sub(s.field.Endpoint(q, particles.Minus), tip))
		plus := r3.Norm(r3.Sub(s.field.Endpoint(q, particles.Plus), tip))
		qEnd, dist := particles.Minus, minus
		if plus < minus {
			qEnd, dist = particles.Plus, plus
		}
		if dist > half || s.field.ConnectionIndex(q, qEnd) >= 0 {
			continue
		}
		s.candidates = append(s.candidates, candidate{id: q, end: qEnd})
	}
	if len(s.candidates) == 0 {
		return nil
	}
	c := s.candidates[s.rng.Intn(len(s.candidates))]

	out.Accepted = s.evaluate(s.model.Connect(id, end, c.id, c.end).Total(), temperature, out)
	if !out.Accepted {
		return nil
	}
	weight := s.model.ConnectionWeight(id, end, c.id, c.end)
	return apply(s.field.Connect(id, end, c.id, c.end, weight), out)
}

func (s *Sampler) proposeDisconnect(temperature float64, out *Outcome) error {
	ci, ok := s.field.RandomConnection(s.rng)
	if !ok {
		return nil
	}
	conn := s.field.Connection(ci)
	out.Particle = conn.A

	out.Accepted = s.evaluate(s.model.Disconnect(ci).Total(), temperature, out)
	if !out.Accepted {
		return nil
	}
	return apply(s.field.DisconnectAt(ci), out)
}
