package sim

// Motor records what an H-bridge channel was told to do.
type Motor struct {
	Forward bool
	Duty    int
	Writes  int
}

func (m *Motor) SetDirection(forward bool) error {
	m.Forward = forward
	m.Writes++
	return nil
}

func (m *Motor) SetDutyCycle(duty int) error {
	m.Duty = duty
	m.Writes++
	return nil
}

// Signed is the duty with the direction applied.
func (m *Motor) Signed() float64 {
	if m.Forward {
		return float64(m.Duty)
	}
	return -float64(m.Duty)
}
