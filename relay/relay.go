// Package relay drives the latching power relay that gates the machine,
// following the read-back discipline of spec §4.5: the pin is read as an
// input at idle, and only driven as an output for the brief latch pulse.
// Built on periph.io's gpio.PinIO, the same pin abstraction the teacher's
// transport/i2c package pulls periph.io/x/host/v3 in for.
package relay

import (
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

var log = logrus.WithField("component", "relay")

// LatchPulse is how long the pin is driven during a toggle before being
// reconfigured back to an input (spec §4.5 "write, wait 50 ms, reconfigure
// as input, re-read").
const LatchPulse = 50 * time.Millisecond

// Sleeper abstracts time.Sleep so tests don't block on the real pulse.
type Sleeper interface {
	Sleep(d time.Duration)
}

// RealSleeper sleeps for real; the production default.
type RealSleeper struct{}

func (RealSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Relay drives a single latching-relay GPIO pin. It is mutated only by
// usage.MachineUsage on the main thread (spec §5 shared-resource policy).
type Relay struct {
	pin     gpio.PinIO
	sleeper Sleeper
	state   bool // true = ON (relay closed), mirrors last commanded level
}

// New wraps pin, reading back its boot-time state as the initial Relay
// state (spec: "relais_state_ = digitalRead(...)" at Begin()).
func New(pin gpio.PinIO) (*Relay, error) {
	if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, errs.New(errs.Unspecified, err)
	}
	state := pin.Read() == gpio.High
	if state {
		log.Warn("relay was ON at startup")
	}
	return &Relay{pin: pin, sleeper: RealSleeper{}, state: state}, nil
}

// NewWithSleeper is New with an injectable Sleeper, for tests that must not
// block on the real latch pulse.
func NewWithSleeper(pin gpio.PinIO, sleeper Sleeper) (*Relay, error) {
	r, err := New(pin)
	if err != nil {
		return nil, err
	}
	r.sleeper = sleeper
	return r, nil
}

// On reports whether the relay is currently commanded ON.
func (r *Relay) On() bool { return r.state }

// SetDesired compares the desired state to the actual commanded state and,
// if they differ, drives the latch-pulse sequence: configure as output,
// write, wait LatchPulse, reconfigure as input, then read back and log an
// error if the pin disagrees with what was written (spec §4.5).
func (r *Relay) SetDesired(on bool) error {
	if on == r.state {
		return nil
	}
	r.state = on
	level := gpio.Low
	if on {
		level = gpio.High
	}

	log.WithField("state", on).Info("toggling relay")

	if err := r.pin.Out(level); err != nil {
		return errs.New(errs.Unspecified, err)
	}
	r.sleeper.Sleep(LatchPulse)
	if err := r.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return errs.New(errs.Unspecified, err)
	}

	actual := r.pin.Read() == gpio.High
	if actual != on {
		log.WithField("expected", on).WithField("actual", actual).Error("relay read-back disagreed with commanded state")
	}
	return nil
}
