package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/host/v3"

	pn532 "github.com/werkstattwaedi/machine-auth-sub000/pn532"
	_ "github.com/werkstattwaedi/machine-auth-sub000/pn532/detection/i2c"
	_ "github.com/werkstattwaedi/machine-auth-sub000/pn532/detection/uart"
	"github.com/werkstattwaedi/machine-auth-sub000/authcache"
	"github.com/werkstattwaedi/machine-auth-sub000/firebaseclient"
	"github.com/werkstattwaedi/machine-auth-sub000/keyprovider"
	"github.com/werkstattwaedi/machine-auth-sub000/ntag424"
	"github.com/werkstattwaedi/machine-auth-sub000/reader"
	"github.com/werkstattwaedi/machine-auth-sub000/relay"
	"github.com/werkstattwaedi/machine-auth-sub000/secrets"
	"github.com/werkstattwaedi/machine-auth-sub000/session"
	"github.com/werkstattwaedi/machine-auth-sub000/sysclock"
	"github.com/werkstattwaedi/machine-auth-sub000/usage"
	"github.com/werkstattwaedi/machine-auth-sub000/verifier"
	"github.com/werkstattwaedi/machine-auth-sub000/watchdog"
)

var log = logrus.WithField("component", "maco-terminal")

// secretsFlashAddress is the dedicated sector offset for the device-secrets
// record (spec §4.9). The real flash layout is out of scope; this is only
// meaningful against secrets.FakeFlash, the host-simulator fallback.
const secretsFlashAddress = 0

// app wires every core component named in the package layout into one
// runnable terminal: PN532 device -> Reader -> Verifier + Coordinator ->
// MachineUsage -> Relay + history Store, plus the Firebase facade and Auth
// Cache each of those consult.
type app struct {
	device *pn532.Device
	reader *reader.Reader

	coordinator *session.Coordinator
	verifier    *verifier.Verifier
	machine     *usage.MachineUsage

	pollInterval time.Duration
}

func buildApp(cfg *config) (*app, error) {
	device, err := connectDevice(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to PN532 device: %w", err)
	}

	secretsStore := secrets.New(secrets.NewFakeFlash(secrets.SectorSize), secretsFlashAddress)
	if !secretsStore.IsProvisioned() {
		log.Warn("device secrets are not provisioned; terminal-key authentication will fail until provisioning runs")
	}

	terminalKeyProvider := func() ntag424.KeyProvider {
		key, err := secretsStore.NtagTerminalKey()
		if err != nil {
			log.WithError(err).Error("failed to read terminal key")
			key = secrets.KeyBytes{}
		}
		return keyprovider.NewLocal([16]byte(key), keyprovider.KeyApplication)
	}

	r := reader.New(device, terminalKeyProvider, watchdog.Noop{})

	transport := firebaseclient.New(unconfiguredTransport{})
	cache := authcache.NewDefault(sysclock.System{})
	sessions := session.NewSessions()
	requiredPermissions := cfg.requiredPermissions()

	coordinator := session.NewCoordinator(r, transport, sessions, requiredPermissions)
	tagVerifier := verifier.New(r, transport, cache)

	relayPin := acquireRelayPin(cfg)
	relayDriver, err := relay.New(relayPin)
	if err != nil {
		return nil, fmt.Errorf("initialize relay: %w", err)
	}

	historyStore := usage.NewStore(usage.OSFileSystem{}, *cfg.machineID)
	machine := usage.New(relayDriver, historyStore, transport, sysclock.System{}, requiredPermissions, usage.ClearOnSubmit)

	return &app{
		device:       device,
		reader:       r,
		coordinator:  coordinator,
		verifier:     tagVerifier,
		machine:      machine,
		pollInterval: *cfg.pollInterval,
	}, nil
}

func connectDevice(cfg *config) (*pn532.Device, error) {
	var opts []pn532.ConnectOption
	if *cfg.devicePath == "" {
		opts = append(opts, pn532.WithAutoDetection())
	}
	opts = append(opts, pn532.WithConnectTimeout(5*time.Second))
	return pn532.ConnectDevice(*cfg.devicePath, opts...)
}

// acquireRelayPin resolves the configured GPIO pin by name, falling back to
// a simulated pin (gpiotest.Pin) when no hardware is configured — the same
// host-simulator fallback secrets.FakeFlash provides for device secrets.
func acquireRelayPin(cfg *config) gpio.PinIO {
	if *cfg.relayPin == "" {
		return &gpiotest.Pin{N: "simulated-relay", L: gpio.Low}
	}
	if _, err := host.Init(); err != nil {
		log.WithError(err).Error("failed to initialize periph host, falling back to simulated relay")
		return &gpiotest.Pin{N: "simulated-relay", L: gpio.Low}
	}
	pin := gpioreg.ByName(*cfg.relayPin)
	if pin == nil {
		log.WithField("pin", *cfg.relayPin).Error("relay pin not found, falling back to simulated relay")
		return &gpiotest.Pin{N: "simulated-relay", L: gpio.Low}
	}
	return pin
}

// run drives the main-dispatcher loop: NFC worker state is read back each
// tick and fanned out to the Verifier, the Session Coordinator, and
// MachineUsage, in that order (spec §5's thread/ownership model — the NFC
// worker itself runs on its own goroutine started by reader.Start).
func (a *app) run(ctx context.Context) error {
	if err := a.reader.Start(ctx); err != nil {
		return fmt.Errorf("start NFC reader: %w", err)
	}
	defer a.reader.Stop()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			nfcState := a.reader.CurrentState()
			a.verifier.Loop(nfcState)
			coordState := a.coordinator.Loop(nfcState)
			a.machine.Loop(coordState)
		}
	}
}
