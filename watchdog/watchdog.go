// Package watchdog is the narrow collaborator interface the NFC worker
// pings once per tick (spec §4.1, §5). The watchdog's own implementation —
// the hardware timer, the reset path — is out of scope; the core only
// needs a place to call Ping from.
package watchdog

// Pinger is fed a liveness signal once per NFC-worker tick. A missed Ping
// past the watchdog's own timeout triggers a device reset, which is
// outside this package's concern.
type Pinger interface {
	Ping()
}

// Noop is the default Pinger when no hardware watchdog is wired up (host
// simulator, tests).
type Noop struct{}

// Ping implements Pinger.
func (Noop) Ping() {}
