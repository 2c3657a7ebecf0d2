package main

import (
	"flag"
	"strings"
	"time"
)

// config is the terminal's flag-parsed boot configuration, following the
// cmd/readtag convention of a flag-backed struct built once in main().
type config struct {
	devicePath   *string
	relayPin     *string
	machineID    *string
	permissions  *string
	pollInterval *time.Duration
	debug        *bool
}

func parseFlags() *config {
	cfg := &config{
		devicePath: flag.String("device", "",
			"PN532 serial device path (e.g., /dev/ttyUSB0 or COM3). Leave empty for auto-detection."),
		relayPin: flag.String("relay-pin", "",
			"GPIO pin name driving the latching relay. Leave empty to run against a simulated relay."),
		machineID:   flag.String("machine-id", "workshop-machine", "Machine id used for the usage-history path and cloud requests."),
		permissions: flag.String("required-permissions", "", "Comma-separated permissions a session must hold to check in."),
		pollInterval: flag.Duration("poll-interval", 10*time.Millisecond,
			"Main loop tick interval at which the NFC state is fed to the verifier, session coordinator and machine usage (the NFC worker paces itself separately)."),
		debug: flag.Bool("debug", false, "Enable verbose logging."),
	}
	flag.Parse()
	return cfg
}

func (c *config) requiredPermissions() []string {
	raw := strings.TrimSpace(*c.permissions)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
