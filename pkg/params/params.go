// Package params persists tracking parameter sets as XML files.
//
// A file holds one parameter_set element:
//
//	<global_tracking_parameter_file file_version="0.1">
//	  <parameter_set iterations="10000000" particle_length="0" ... />
//	</global_tracking_parameter_file>
package params

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"

	"gibbstrack/pkg/tracking"
)

// FileVersion is the version attribute written to and accepted from files
const FileVersion = "0.1"

// ErrVersion is returned for files with an unsupported file_version
var ErrVersion = errors.New("unsupported parameter file version")

// ErrNoParameterSet is returned for files without a parameter_set element
var ErrNoParameterSet = errors.New("parameter file has no parameter_set")

type document struct {
	XMLName xml.Name     `xml:"global_tracking_parameter_file"`
	Version string       `xml:"file_version,attr"`
	Set     parameterSet `xml:"parameter_set"`
}

type parameterSet struct {
	// XMLName is only set when the element is present in a loaded file
	XMLName xml.Name `xml:"parameter_set"`

	Iterations          int64   `xml:"iterations,attr"`
	ParticleLength      float64 `xml:"particle_length,attr"`
	ParticleWidth       float64 `xml:"particle_width,attr"`
	ParticleWeight      float64 `xml:"particle_weight,attr"`
	StartTemperature    float64 `xml:"temp_start,attr"`
	EndTemperature      float64 `xml:"temp_end,attr"`
	Balance             float64 `xml:"inexbalance,attr"`
	MinFiberLength      float64 `xml:"fiber_length,attr"`
	CurvatureThreshold  float64 `xml:"curvature_threshold,attr"`
	ConnectionPotential float64 `xml:"connection_potential,attr"`
	ChemicalPotential   float64 `xml:"chemical_potential,attr"`

	// RandomSeed is -1 when unset
	RandomSeed int64  `xml:"random_seed,attr"`
	LUTPath    string `xml:"lut_path,attr,omitempty"`
}

func newParameterSet(p tracking.Params) parameterSet {
	s := parameterSet{
		Iterations:          p.Iterations,
		ParticleLength:      p.ParticleLength,
		ParticleWidth:       p.ParticleWidth,
		ParticleWeight:      p.ParticleWeight,
		StartTemperature:    p.StartTemperature,
		EndTemperature:      p.EndTemperature,
		Balance:             p.Balance,
		MinFiberLength:      p.MinFiberLength,
		CurvatureThreshold:  p.CurvatureThreshold,
		ConnectionPotential: p.ConnectionPotential,
		ChemicalPotential:   p.ChemicalPotential,
		RandomSeed:          -1,
		LUTPath:             p.LUTPath,
	}
	if p.Seed != nil {
		s.RandomSeed = *p.Seed
	}
	return s
}

// Save writes the persisted subset of p to path
func Save(path string, p tracking.Params) error {
	doc := document{Version: FileVersion, Set: newParameterSet(p)}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding parameter file: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing parameter file: %w", err)
	}
	return nil
}

// Load reads a parameter file and applies it over base. Attributes missing
// from the file and fields it does not persist (rounds, bucket capacity,
// calibration) keep base values. A missing random_seed leaves the seed unset.
func Load(path string, base tracking.Params) (tracking.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading parameter file: %w", err)
	}

	// xml only overwrites attributes present in the file
	unset := base
	unset.Seed = nil
	doc := document{Set: newParameterSet(unset)}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return base, fmt.Errorf("parsing parameter file %s: %w", path, err)
	}
	if doc.Version != FileVersion {
		return base, fmt.Errorf("%w: %q", ErrVersion, doc.Version)
	}
	if doc.Set.XMLName.Local == "" {
		return base, fmt.Errorf("%w: %s", ErrNoParameterSet, path)
	}

	s := doc.Set
	p := base
	p.Iterations = s.Iterations
	p.ParticleLength = s.ParticleLength
	p.ParticleWidth = s.ParticleWidth
	p.ParticleWeight = s.ParticleWeight
	p.StartTemperature = s.StartTemperature
	p.EndTemperature = s.EndTemperature
	p.Balance = s.Balance
	p.MinFiberLength = s.MinFiberLength
	p.CurvatureThreshold = s.CurvatureThreshold
	p.ConnectionPotential = s.ConnectionPotential
	p.ChemicalPotential = s.ChemicalPotential
	p.Seed = nil
	if s.RandomSeed >= 0 {
		seed := s.RandomSeed
		p.Seed = &seed
	}
	if s.LUTPath != "" {
		p.LUTPath = s.LUTPath
	}
	return p, nil
}
