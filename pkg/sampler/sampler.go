// Package sampler implements the Metropolis proposal loop that edits the
// particle field: births, deaths, shifts, rotations, connections and
// disconnections, accepted or rejected at an externally set temperature.
package sampler

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gibbstrack/pkg/energy"
	"gibbstrack/pkg/particles"
)

// ErrStopped is returned by Step once the sampler has been stopped
var ErrStopped = errors.New("sampler stopped")

// Kind identifies a proposal type
type Kind int

const (
	Birth Kind = iota
	Death
	Shift
	Rotate
	Connect
	Disconnect

	// NumKinds is the number of proposal kinds
	NumKinds = 6
)

var kindNames = [NumKinds]string{"birth", "death", "shift", "rotate", "connect", "disconnect"}

func (k Kind) String() string {
	if k < 0 || int(k) >= NumKinds {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// State is the position of the sampler in its proposal cycle
type State int

const (
	Proposing State = iota
	Evaluating
	Accepted
	Rejected
	Stopped
)

func (s State) String() string {
	switch s {
	case Proposing:
		return "proposing"
	case Evaluating:
		return "evaluating"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome describes one proposal
type Outcome struct {
	Iteration int64
	Kind      Kind

	// Particle is the particle the proposal acted on, NoID when none
	Particle particles.ID

	// Delta is the evaluated energy change, NaN for impossible proposals
	Delta    float64
	Accepted bool
}

// KindStats counts proposals of one kind
type KindStats struct {
	Proposed int64
	Accepted int64
}

// Stats accumulates over the lifetime of a sampler
type Stats struct {
	Considered int64
	Accepted   int64
	PerKind    [NumKinds]KindStats

	// AcceptedDelta is the summed energy change of accepted proposals
	AcceptedDelta float64
}

// AcceptanceRatio returns Accepted/Considered, 0 before the first step
func (s Stats) AcceptanceRatio() float64 {
	if s.Considered == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Considered)
}

// Options configures a sampler
type Options struct {
	// Trace receives every outcome when set
	Trace func(Outcome)

	Logger *slog.Logger
}

// Sampler owns the random generator of a run and is the only writer of
// the particle field while it runs.
type Sampler struct {
	field *particles.Field
	model *energy.Model
	rng   *rand.Rand
	opts  Options
	log   *slog.Logger

	state  State
	stats  Stats
	energy float64

	scratch    []particles.ID
	candidates []candidate
}

// New creates a sampler editing the particle field the model is bound to.
// The sampler takes ownership of rng.
func New(model *energy.Model, rng *rand.Rand, opts Options) (*Sampler, error) {
	if model == nil || rng == nil {
		return nil, errors.New("sampler needs an energy model and a random generator")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		field: model.Particles(),
		model: model,
		rng:   rng,
		opts:  opts,
		log:   log.With("component", "sampler"),
		state: Proposing,
	}, nil
}

// State returns the current state
func (s *Sampler) State() State { return s.state }

// Stats returns the accumulated counters
func (s *Sampler) Stats() Stats { return s.stats }

// Energy returns the summed energy change of all accepted proposals, which
// equals the energy of the field when the sampler started from an empty one
func (s *Sampler) Energy() float64 { return s.energy }

// Stop moves the sampler to its terminal state
func (s *Sampler) Stop() {
	if s.state != Stopped {
		s.log.Debug("sampler stopped", "considered", s.stats.Considered, "accepted", s.stats.Accepted)
	}
	s.state = Stopped
}

// Step proposes, evaluates and possibly applies one edit at temperature.
// Errors are fatal and leave the field in its pre-proposal state.
func (s *Sampler) Step(temperature float64) (Outcome, error) {
	if s.state == Stopped {
		return Outcome{}, ErrStopped
	}
	s.state = Proposing

	kind := Kind(s.rng.Intn(NumKinds))
	out := Outcome{Iteration: s.stats.Considered, Kind: kind, Particle: particles.NoID, Delta: math.NaN()}

	var err error
	switch kind {
	case Birth:
		err = s.proposeBirth(temperature, &out)
	case Death:
		err = s.proposeDeath(temperature, &out)
	case Shift:
		err = s.proposeShift(temperature, &out)
	case Rotate:
		err = s.proposeRotate(temperature, &out)
	case Connect:
		err = s.proposeConnect(temperature, &out)
	case Disconnect:
		err = s.proposeDisconnect(temperature, &out)
	}
	if err != nil {
		s.state = Rejected
		return out, err
	}

	s.stats.Considered++
	s.stats.PerKind[kind].Proposed++
	if out.Accepted {
		s.stats.Accepted++
		s.stats.PerKind[kind].Accepted++
		s.stats.AcceptedDelta += out.Delta
		s.energy += out.Delta
		s.state = Accepted
	} else {
		s.state = Rejected
	}

	if s.opts.Trace != nil {
		s.opts.Trace(out)
	}
	return out, nil
}

// evaluate applies the Metropolis rule to delta. A uniform draw is only
// consumed for uphill moves.
func (s *Sampler) evaluate(delta float64, temperature float64, out *Outcome) bool {
	s.state = Evaluating
	out.Delta = delta
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return false
	}
	if delta <= 0 {
		return true
	}
	if !(temperature > 0) {
		return false
	}
	return s.rng.Float64() < math.Exp(-delta/temperature)
}
