package ntag424

import (
	"bytes"
	"context"
	"fmt"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

// Transceiver exchanges a raw APDU with an already-selected tag. The reader
// package adapts the PN532 driver's Device.SendDataExchangeContext to it.
type Transceiver interface {
	Transceive(ctx context.Context, apdu []byte) ([]byte, error)
}

// selectAID is the ISO 7816-4 SelectFile APDU for the NTAG 424 DNA
// application, AID D2 76 00 00 85 01 01.
var selectAID = []byte{0x00, 0xA4, 0x04, 0x0C, 0x07, 0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

const (
	statusSuccess  = 0x9100
	statusMoreData = 0x91AF

	cmdAuthEV2First = 0x71
	cmdAuthEV2Part2 = 0xAF
	cmdGetCardUID   = 0x51
)

func statusWord(resp []byte) (uint16, error) {
	if len(resp) < 2 {
		return 0, errs.Newf(errs.MalformedResponse, "ntag424: response too short (%d bytes)", len(resp))
	}
	return uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1]), nil
}

// SelectApplication sends the ISO-Select APDU for the NTAG 424 DNA
// application and fails with Unsupported on any status other than 9000
// (the card-select status byte, distinct from the secure-messaging 9100).
func SelectApplication(ctx context.Context, t Transceiver) error {
	resp, err := t.Transceive(ctx, selectAID)
	if err != nil {
		return errs.New(errs.NoTag, err)
	}
	sw, err := statusWord(resp)
	if err != nil {
		return errs.New(errs.Unsupported, err)
	}
	if sw != 0x9000 {
		return errs.Newf(errs.Unsupported, "ntag424: select status %04X", sw)
	}
	return nil
}

// KeyProvider is the cryptographic counter-party for AuthenticateEV2First:
// either a Local key holder that computes RndA/session keys itself, or a
// Cloud delegate that forwards the challenge/response to a remote service.
type KeyProvider interface {
	// KeySlot identifies which of the tag's key slots to authenticate.
	KeySlot() byte
	// ComputePart2Response receives E(K, RndB) (16 bytes) from the tag and
	// returns the 32-byte Part-2 payload E(K, RndA || rot_left(RndB,8)).
	ComputePart2Response(ctx context.Context, encryptedRndB []byte) ([]byte, error)
	// VerifyAndDeriveSession receives the tag's 32-byte encrypted Part-3
	// response and either returns the derived session or an
	// Unauthenticated error. ti/picCapabilities are only meaningful on
	// success.
	VerifyAndDeriveSession(ctx context.Context, encryptedPart3Response []byte) (sesEncKey, sesMacKey [16]byte, ti [4]byte, picCapabilities [6]byte, err error)
	// CancelAuthentication releases any cloud-side state tied to an
	// in-flight handshake that the caller is abandoning (e.g. tag departed
	// mid-handshake).
	CancelAuthentication(ctx context.Context)
}

// Authenticate performs the two-leg AuthenticateEV2First APDU exchange
// against an already ISO-Selected NTAG 424 DNA tag, delegating the
// cryptographic counter-party role to kp. The key provider may itself
// suspend on a network round trip; the protocol holds no state of its own
// until the handshake completes.
func Authenticate(ctx context.Context, t Transceiver, kp KeyProvider) (*SecureSession, error) {
	part1 := []byte{0x90, cmdAuthEV2First, 0x00, 0x00, 0x02, kp.KeySlot(), 0x00, 0x00}
	resp1, err := t.Transceive(ctx, part1)
	if err != nil {
		kp.CancelAuthentication(ctx)
		return nil, errs.New(errs.NoTag, err)
	}
	if len(resp1) != 18 {
		kp.CancelAuthentication(ctx)
		return nil, errs.Newf(errs.Unauthenticated, "ntag424: auth part1 response length %d, want 18", len(resp1))
	}
	sw1, _ := statusWord(resp1)
	if sw1 != statusMoreData {
		kp.CancelAuthentication(ctx)
		return nil, errs.Newf(errs.Unauthenticated, "ntag424: auth part1 status %04X, want %04X", sw1, statusMoreData)
	}
	encryptedRndB := resp1[:16]

	part2Payload, err := kp.ComputePart2Response(ctx, encryptedRndB)
	if err != nil {
		kp.CancelAuthentication(ctx)
		return nil, errs.New(errs.Unauthenticated, fmt.Errorf("ntag424: key provider part2: %w", err))
	}
	if len(part2Payload) != 32 {
		kp.CancelAuthentication(ctx)
		return nil, errs.Newf(errs.Unauthenticated, "ntag424: key provider part2 payload length %d, want 32", len(part2Payload))
	}

	part2 := make([]byte, 0, 5+32+1)
	part2 = append(part2, 0x90, cmdAuthEV2Part2, 0x00, 0x00, 0x20)
	part2 = append(part2, part2Payload...)
	part2 = append(part2, 0x00)

	resp2, err := t.Transceive(ctx, part2)
	if err != nil {
		kp.CancelAuthentication(ctx)
		return nil, errs.New(errs.NoTag, err)
	}
	if len(resp2) != 34 {
		kp.CancelAuthentication(ctx)
		return nil, errs.Newf(errs.Unauthenticated, "ntag424: auth part2 response length %d, want 34", len(resp2))
	}
	sw2, _ := statusWord(resp2)
	if sw2 != statusSuccess {
		kp.CancelAuthentication(ctx)
		return nil, errs.Newf(errs.Unauthenticated, "ntag424: auth part2 status %04X, want %04X", sw2, statusSuccess)
	}
	encryptedPart3Response := resp2[:32]

	sesEncKey, sesMacKey, ti, picCapabilities, err := kp.VerifyAndDeriveSession(ctx, encryptedPart3Response)
	if err != nil {
		return nil, errs.New(errs.Unauthenticated, fmt.Errorf("ntag424: session derivation: %w", err))
	}

	return NewSecureSession(sesEncKey, sesMacKey, ti, picCapabilities), nil
}

// GetCardUID issues the secure-messaging GetCardUID command (0x51) and
// returns the tag's real 7-byte UID, verifying the response CMAC and
// decrypting the payload under the session. It advances the session's
// CmdCtr on success; on overflow the session is unusable for any further
// command and an Unspecified/overflow error is returned without mutating
// state further.
func GetCardUID(ctx context.Context, t Transceiver, s *SecureSession) ([]byte, error) {
	cmacT, err := s.BuildCommandCMAC(cmdGetCardUID, nil)
	if err != nil {
		return nil, err
	}

	apdu := make([]byte, 0, 5+8+1)
	apdu = append(apdu, 0x90, cmdGetCardUID, 0x00, 0x00, 0x08)
	apdu = append(apdu, cmacT[:]...)
	apdu = append(apdu, 0x00)

	resp, err := t.Transceive(ctx, apdu)
	if err != nil {
		return nil, errs.New(errs.NoTag, err)
	}
	if len(resp) != 26 {
		return nil, errs.Newf(errs.MalformedResponse, "ntag424: GetCardUID response length %d, want 26", len(resp))
	}
	sw, _ := statusWord(resp)
	if sw != statusSuccess {
		return nil, errs.Newf(errs.Unauthenticated, "ntag424: GetCardUID status %04X", sw)
	}

	ciphertext := resp[:16]
	receivedCMACt := resp[16:24]

	if err := s.VerifyResponseCMACWithData(0x00, ciphertext, receivedCMACt); err != nil {
		return nil, err
	}

	plaintext, err := s.DecryptResponseData(ciphertext)
	if err != nil {
		return nil, err
	}
	if len(plaintext) != 7 {
		return nil, errs.Newf(errs.MalformedResponse, "ntag424: decrypted UID length %d, want 7", len(plaintext))
	}

	if !s.IncrementCounter() {
		return nil, errs.Newf(errs.Unspecified, "ntag424: command counter overflow")
	}

	return bytes.Clone(plaintext), nil
}
