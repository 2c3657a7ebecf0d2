// go-pn532
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn532.
//
// go-pn532 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn532 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn532; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

/*
Package pn532 provides a pure Go driver for the PN532 NFC/RFID controller,
the proximity coupling device used by the terminal's reader package to talk
to NTAG 424 DNA secure elements.

The PN532 is a highly integrated transceiver module for contactless
communication at 13.56 MHz. This package handles framing, checksums, ACK/NACK
handling and command retries. It reads no NDEF data and no MIFARE Classic
sectors; a detected tag is only labelled with a coarse family (NTAG, MIFARE,
FeliCa) derived from its anticollision data (UID, SAK, ATQ) — tag-family
handling (NTAG 424 DNA authentication, secure messaging) lives in the sibling
ntag424 package.

Basic Usage:

	import (
	    "github.com/werkstattwaedi/machine-auth-sub000/pn532"
	    "github.com/werkstattwaedi/machine-auth-sub000/pn532/transport/uart"
	)

	transport, err := uart.New("/dev/ttyUSB0")
	if err != nil {
	    log.Fatal(err)
	}
	defer transport.Close()

	device, err := pn532.New(transport)
	if err != nil {
	    log.Fatal(err)
	}
	if err := device.Init(); err != nil {
	    log.Fatal(err)
	}

	device, err = pn532.New(transport,
	    pn532.WithTimeout(2*time.Second),
	    pn532.WithMaxRetries(5),
	)

	tag, err := device.DetectTag()
	if err != nil {
	    log.Fatal(err)
	}
	if tag != nil {
	    fmt.Printf("tag detected: %s\n", tag.UID)
	}

Transport Selection:

  - UART: most common, works with USB-to-serial adapters (go.bug.st/serial)
  - I2C: for embedded systems with an I2C bus (periph.io)

Error Handling:

All operations return meaningful errors that can be inspected:

	if errors.Is(err, pn532.ErrTimeout) {
	    // Handle timeout
	}

Thread Safety:

Device operations are not thread-safe. If you need concurrent access,
implement appropriate synchronization in your application.
*/
package pn532
