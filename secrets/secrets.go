// Package secrets is the opaque accessor for the two 16-byte keys the
// factory provisioning RPC writes: the gateway master secret and the NTAG
// terminal key (spec §4.9). The provisioning RPC itself is out of scope;
// this package only reads, provisions, and clears the flash sector it
// lives in.
package secrets

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/sirupsen/logrus"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

var log = logrus.WithField("component", "secrets")

const (
	magic        uint32 = 0x3043_414D // "MAC0" as little-endian uint32
	version      byte   = 1
	headerSize          = 4 + 1 + 2 + 1 // magic, version, length, reserved
	payloadSize         = 16 + 16       // gateway master secret + ntag terminal key
	crcSize             = 4
	SectorSize   uint32 = 4096
)

// KeyBytes is 16 bytes of AES-128 key material, constructed only through a
// length-checked path. Callers are expected to zeroize their copy with
// Zero when done.
type KeyBytes [16]byte

// Zero wipes the key in place.
func (k *KeyBytes) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Flash is the minimal NOR-flash contract the device-secrets sector needs:
// a length-prefixed read, a single contiguous write, and a sector erase.
// Flash can only transition bits 1->0, so Provision always erases first.
type Flash interface {
	ReadAt(addr uint32, p []byte) error
	WriteAt(addr uint32, p []byte) error
	Erase(addr uint32, length uint32) error
}

// Store is the device-secrets accessor. Address is the byte offset of the
// dedicated 4 KiB sector within Flash.
type Store struct {
	flash   Flash
	address uint32

	loaded  bool
	valid   bool
	gateway KeyBytes
	ntag    KeyBytes
}

// New constructs a Store over flash at the given sector address. Nothing
// is read until the first call that needs it (IsProvisioned, the key
// accessors).
func New(flash Flash, address uint32) *Store {
	return &Store{flash: flash, address: address}
}

func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.valid = s.loadFromFlash()
}

// IsProvisioned reports whether a valid record was read from flash.
func (s *Store) IsProvisioned() bool {
	s.ensureLoaded()
	return s.valid
}

// GatewayMasterSecret returns a by-value copy of the gateway master secret.
// The caller is expected to Zero it when done.
func (s *Store) GatewayMasterSecret() (KeyBytes, error) {
	s.ensureLoaded()
	if !s.valid {
		return KeyBytes{}, errs.Newf(errs.Unspecified, "secrets: not provisioned")
	}
	return s.gateway, nil
}

// NtagTerminalKey returns a by-value copy of the NTAG terminal key. The
// caller is expected to Zero it when done.
func (s *Store) NtagTerminalKey() (KeyBytes, error) {
	s.ensureLoaded()
	if !s.valid {
		return KeyBytes{}, errs.Newf(errs.Unspecified, "secrets: not provisioned")
	}
	return s.ntag, nil
}

// Provision erases the sector and writes both keys in a single contiguous
// write, per spec §4.9 ("erase sector, then write the full record in a
// single contiguous write"). Only the out-of-scope factory RPC calls this.
func (s *Store) Provision(gatewayMasterSecret, ntagTerminalKey KeyBytes) error {
	buf := make([]byte, headerSize+payloadSize+crcSize)

	binary.LittleEndian.PutUint32(buf[0:4], magic)
	buf[4] = version
	binary.LittleEndian.PutUint16(buf[5:7], uint16(payloadSize))
	buf[7] = 0 // reserved

	copy(buf[headerSize:headerSize+16], gatewayMasterSecret[:])
	copy(buf[headerSize+16:headerSize+payloadSize], ntagTerminalKey[:])

	crc := crc32.ChecksumIEEE(buf[:headerSize+payloadSize])
	binary.LittleEndian.PutUint32(buf[headerSize+payloadSize:], crc)

	if err := s.flash.Erase(s.address, SectorSize); err != nil {
		log.WithError(err).Error("flash erase failed during provisioning")
		return errs.New(errs.Unspecified, err)
	}
	if err := s.flash.WriteAt(s.address, buf); err != nil {
		log.WithError(err).Error("flash write failed during provisioning")
		return errs.New(errs.Unspecified, err)
	}

	s.gateway = gatewayMasterSecret
	s.ntag = ntagTerminalKey
	s.loaded = true
	s.valid = true
	log.Info("device secrets provisioned")
	return nil
}

// Clear erases the sector, leaving IsProvisioned false.
func (s *Store) Clear() error {
	if err := s.flash.Erase(s.address, SectorSize); err != nil {
		log.WithError(err).Error("flash erase failed during clear")
		return errs.New(errs.Unspecified, err)
	}
	s.gateway.Zero()
	s.ntag.Zero()
	s.loaded = true
	s.valid = false
	log.Info("device secrets cleared")
	return nil
}

// loadFromFlash implements the read path: header -> validate -> payload ->
// CRC -> decode. Any validation failure leaves the store unprovisioned
// without touching flash.
func (s *Store) loadFromFlash() bool {
	header := make([]byte, headerSize)
	if err := s.flash.ReadAt(s.address, header); err != nil {
		log.WithError(err).Debug("device secrets: flash read failed")
		return false
	}

	gotMagic := binary.LittleEndian.Uint32(header[0:4])
	if gotMagic != magic {
		log.WithField("magic", gotMagic).Debug("device secrets: invalid magic")
		return false
	}
	gotVersion := header[4]
	if gotVersion != version {
		log.WithField("version", gotVersion).Warn("device secrets: unsupported version")
		return false
	}
	length := binary.LittleEndian.Uint16(header[5:7])
	if int(length) != payloadSize {
		log.WithField("length", length).Warn("device secrets: unexpected payload length")
		return false
	}

	payload := make([]byte, payloadSize)
	if err := s.flash.ReadAt(s.address+headerSize, payload); err != nil {
		log.WithError(err).Warn("device secrets: flash read failed for payload")
		return false
	}

	crcBuf := make([]byte, crcSize)
	if err := s.flash.ReadAt(s.address+headerSize+payloadSize, crcBuf); err != nil {
		log.WithError(err).Warn("device secrets: flash read failed for crc")
		return false
	}
	storedCRC := binary.LittleEndian.Uint32(crcBuf)

	check := make([]byte, 0, headerSize+payloadSize)
	check = append(check, header...)
	check = append(check, payload...)
	computedCRC := crc32.ChecksumIEEE(check)
	if storedCRC != computedCRC {
		log.WithField("stored_crc", storedCRC).WithField("computed_crc", computedCRC).Warn("device secrets: crc mismatch")
		return false
	}

	copy(s.gateway[:], payload[0:16])
	copy(s.ntag[:], payload[16:32])
	log.Info("device secrets loaded from flash")
	return true
}
