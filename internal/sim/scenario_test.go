package sim

import (
	"testing"
	"time"
)

func TestScenario_ParseAndInterpolatePush(t *testing.T) {
	yaml := []byte(`
version: 1
# duration derived from last keyframe
initial_pitch_deg: 2.5
keyframes:
  - t: 0s
    push_deg_s2: 0
  - t: 1s
    push_deg_s2: 100
    drop_packets: true
  - t: 2s
    push_deg_s2: 0
`)

	script, err := ParseScenarioScriptYAML(yaml)
	if err != nil {
		t.Fatalf("ParseScenarioScriptYAML: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	if scn.Duration() != 2*time.Second {
		t.Fatalf("duration: got %s want %s", scn.Duration(), 2*time.Second)
	}
	if scn.InitialPitchDeg() != 2.5 {
		t.Fatalf("initial pitch: got %v want 2.5", scn.InitialPitchDeg())
	}

	st := scn.StateAt(500 * time.Millisecond)
	if st.PushDegS2 != 50 {
		t.Fatalf("push interpolation: got %v want 50", st.PushDegS2)
	}
	if st.DropPackets {
		t.Fatalf("drop_packets should hold the earlier keyframe")
	}

	st = scn.StateAt(1500 * time.Millisecond)
	if st.PushDegS2 != 50 || !st.DropPackets {
		t.Fatalf("state at 1.5s: %+v", st)
	}

	// Clamped past the end.
	st = scn.StateAt(5 * time.Second)
	if st.PushDegS2 != 0 || st.DropPackets {
		t.Fatalf("state past end: %+v", st)
	}
}

func TestScenario_Validation(t *testing.T) {
	if _, err := NewScenario(ScenarioScript{}); err == nil {
		t.Fatalf("expected error for missing keyframes")
	}
	if _, err := NewScenario(ScenarioScript{Version: 2, Keyframes: []ScenarioKeyframe{{T: time.Second}}}); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
	unsorted := ScenarioScript{Keyframes: []ScenarioKeyframe{{T: 2 * time.Second}, {T: time.Second}}}
	if _, err := NewScenario(unsorted); err == nil {
		t.Fatalf("expected error for unsorted keyframes")
	}
	if _, err := NewScenario(ScenarioScript{Keyframes: []ScenarioKeyframe{{T: 0}}}); err == nil {
		t.Fatalf("expected error for zero duration")
	}
	if _, err := ParseScenarioScriptYAML([]byte("keyframes: []\nbogus: 1\n")); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestScenario_NilIsUndisturbed(t *testing.T) {
	var scn *Scenario
	if st := scn.StateAt(time.Second); st != (ScenarioState{}) {
		t.Fatalf("nil scenario state=%+v", st)
	}
	if scn.Duration() != 0 {
		t.Fatalf("nil scenario duration=%s", scn.Duration())
	}
}
