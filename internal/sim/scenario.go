package sim

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioScript is a deterministic, script-driven disturbance description.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 5s
//	initial_pitch_deg: 3
//	keyframes:
//	  - t: 0s
//	    push_deg_s2: 0
//	  - t: 2s
//	    push_deg_s2: 150
//	  - t: 2.5s
//	    push_deg_s2: 0
//	    stall_loop: true
//	  - t: 2.7s
//	    stall_loop: false
//
// push_deg_s2 is interpolated linearly between keyframes. drop_packets and
// stall_loop hold the value of the most recent keyframe.
//
// Keyframes must be sorted by t.
type ScenarioScript struct {
	Version         int                `yaml:"version"`
	Duration        time.Duration      `yaml:"duration"`
	InitialPitchDeg float64            `yaml:"initial_pitch_deg"`
	Keyframes       []ScenarioKeyframe `yaml:"keyframes"`
}

// ScenarioKeyframe is a time-stamped disturbance state.
type ScenarioKeyframe struct {
	T time.Duration `yaml:"t"`
	// PushDegS2 is an external angular acceleration on the body.
	PushDegS2 float64 `yaml:"push_deg_s2"`
	// DropPackets stops the sensor from producing packets.
	DropPackets bool `yaml:"drop_packets"`
	// StallLoop stops the control loop from running while the sensor keeps
	// producing, which is how the FIFO overflows in practice.
	StallLoop bool `yaml:"stall_loop"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

// ScenarioState is the disturbance in effect at one instant.
type ScenarioState struct {
	PushDegS2   float64
	DropPackets bool
	StallLoop   bool
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script. Unknown fields are rejected.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return ScenarioScript{}, fmt.Errorf("sim: parse scenario: %w", err)
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

func (s *Scenario) InitialPitchDeg() float64 {
	if s == nil {
		return 0
	}
	return s.script.InitialPitchDeg
}

// StateAt returns the disturbance at elapsed, clamped to [0, Duration()].
// A nil Scenario is undisturbed.
func (s *Scenario) StateAt(elapsed time.Duration) ScenarioState {
	if s == nil {
		return ScenarioState{}
	}
	elapsed = max(0, min(elapsed, s.duration))

	kfs := s.script.Keyframes
	// next is the first keyframe strictly after elapsed; kfs[0].T may be > 0,
	// in which case the first keyframe holds until then.
	next := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > elapsed })
	cur := kfs[max(next-1, 0)]
	st := ScenarioState{
		PushDegS2:   cur.PushDegS2,
		DropPackets: cur.DropPackets,
		StallLoop:   cur.StallLoop,
	}
	if next == 0 || next == len(kfs) {
		return st
	}
	to := kfs[next]
	if span := to.T - cur.T; span > 0 {
		frac := float64(elapsed-cur.T) / float64(span)
		st.PushDegS2 += (to.PushDegS2 - cur.PushDegS2) * frac
	}
	return st
}
