package relay_test

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// fakePin is a minimal gpio.PinIO for tests: it just remembers the last
// mode/level it was told to assume.
type fakePin struct {
	level    gpio.Level
	isOutput bool

	// forceReadback, when non-nil, overrides every Read() — used to
	// simulate a relay that doesn't actually move when commanded.
	forceReadback *gpio.Level
}

func (p *fakePin) String() string        { return "fakePin" }
func (p *fakePin) Name() string          { return "fakePin" }
func (p *fakePin) Number() int           { return 0 }
func (p *fakePin) Function() string      { return "" }
func (p *fakePin) Halt() error           { return nil }
func (p *fakePin) Pull() gpio.Pull       { return gpio.PullNoChange }
func (p *fakePin) DefaultPull() gpio.Pull { return gpio.PullNoChange }

func (p *fakePin) In(gpio.Pull, gpio.Edge) error {
	p.isOutput = false
	return nil
}

func (p *fakePin) Out(l gpio.Level) error {
	p.isOutput = true
	p.level = l
	return nil
}

func (p *fakePin) Read() gpio.Level {
	if p.forceReadback != nil {
		return *p.forceReadback
	}
	return p.level
}

func (p *fakePin) WaitForEdge(time.Duration) bool { return false }

type fakeSleeper struct{ slept []time.Duration }

func (s *fakeSleeper) Sleep(d time.Duration) { s.slept = append(s.slept, d) }
