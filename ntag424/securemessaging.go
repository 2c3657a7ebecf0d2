// Package ntag424 implements the NTAG 424 DNA secure-messaging layer:
// AuthenticateEV2First, CMACt, IV derivation, and full-mode encryption.
// Reference: NXP AN12196 "NTAG 424 DNA and NTAG 424 DNA TagTamper features
// and hints".
package ntag424

import (
	"crypto/subtle"
	"encoding/binary"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

const (
	keySize         = 16
	tiSize          = 4
	ivSize          = 16
	cmacTruncSize   = 8
	maxSecureMacBuf = 128
	paddingByte     = byte(0x80)
)

// SecureSession holds the state of a secure-messaging channel established by
// a successful AuthenticateEV2First. Key material is zeroized on Close.
type SecureSession struct {
	sesEncKey       [keySize]byte
	sesMacKey       [keySize]byte
	ti              [tiSize]byte
	picCapabilities [6]byte
	cmdCtr          uint16
	closed          bool
}

// NewSecureSession constructs a session from the derived session keys, TI,
// and PICC capabilities returned by a key provider after Part 3 succeeds.
func NewSecureSession(sesEncKey, sesMacKey [16]byte, ti [4]byte, picCapabilities [6]byte) *SecureSession {
	return &SecureSession{
		sesEncKey:       sesEncKey,
		sesMacKey:       sesMacKey,
		ti:              ti,
		picCapabilities: picCapabilities,
	}
}

// CommandCounter returns the current CmdCtr value.
func (s *SecureSession) CommandCounter() uint16 { return s.cmdCtr }

// TransactionID returns the 4-byte TI.
func (s *SecureSession) TransactionID() [4]byte { return s.ti }

// PICCCapabilities returns the 6-byte PICC capability block.
func (s *SecureSession) PICCCapabilities() [6]byte { return s.picCapabilities }

// Closed reports whether the session's keys have already been zeroized.
func (s *SecureSession) Closed() bool { return s.closed }

// Close zeroizes the session key material. Safe to call more than once.
func (s *SecureSession) Close() {
	zero(s.sesEncKey[:])
	zero(s.sesMacKey[:])
	s.closed = true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// calculateIV builds IV = AES_ECB(sesEncKey, [prefix0 prefix1 TI(4) CmdCtr(2,LE) 0x00*8]).
// AES-ECB on a single 16-byte block is AES-CBC with a zero IV.
func (s *SecureSession) calculateIV(prefix0, prefix1 byte) ([ivSize]byte, error) {
	var input [ivSize]byte
	input[0] = prefix0
	input[1] = prefix1
	copy(input[2:6], s.ti[:])
	binary.LittleEndian.PutUint16(input[6:8], s.cmdCtr)
	// bytes 8-15 stay zero

	var zeroIV [ivSize]byte
	var out [ivSize]byte
	ciphertext, err := aesCBCEncrypt(s.sesEncKey[:], zeroIV[:], input[:])
	if err != nil {
		return out, err
	}
	copy(out[:], ciphertext)
	return out, nil
}

// IVCmd computes the command IV (prefix A5 5A).
func (s *SecureSession) IVCmd() ([ivSize]byte, error) {
	return s.calculateIV(0xA5, 0x5A)
}

// IVResp computes the response IV (prefix 5A A5).
func (s *SecureSession) IVResp() ([ivSize]byte, error) {
	return s.calculateIV(0x5A, 0xA5)
}

// calculateCMACt computes the full AES-CMAC over data and truncates it to
// the 8 bytes at odd indices [1,3,5,7,9,11,13,15], per the NTAG 424 spec.
func (s *SecureSession) calculateCMACt(data []byte) ([cmacTruncSize]byte, error) {
	var out [cmacTruncSize]byte
	full, err := aesCMAC(s.sesMacKey[:], data)
	if err != nil {
		return out, err
	}
	for i := 0; i < cmacTruncSize; i++ {
		out[i] = full[2*i+1]
	}
	return out, nil
}

// BuildCommandCMAC computes CMACt over Cmd || CmdCtr(LE) || TI || CmdHeader.
func (s *SecureSession) BuildCommandCMAC(cmd byte, cmdHeader []byte) ([cmacTruncSize]byte, error) {
	return s.BuildCommandCMACWithData(cmd, cmdHeader, nil)
}

// BuildCommandCMACWithData computes CMACt over
// Cmd || CmdCtr(LE) || TI || CmdHeader || Data.
func (s *SecureSession) BuildCommandCMACWithData(cmd byte, cmdHeader, data []byte) ([cmacTruncSize]byte, error) {
	var zero [cmacTruncSize]byte
	input := make([]byte, 0, 7+len(cmdHeader)+len(data))
	input = append(input, cmd)
	var ctr [2]byte
	binary.LittleEndian.PutUint16(ctr[:], s.cmdCtr)
	input = append(input, ctr[:]...)
	input = append(input, s.ti[:]...)
	input = append(input, cmdHeader...)
	input = append(input, data...)
	if len(input) > maxSecureMacBuf {
		return zero, errs.Newf(errs.Unspecified, "ntag424: cmac input too large (%d bytes)", len(input))
	}
	return s.calculateCMACt(input)
}

// VerifyResponseCMAC checks CMACt over ResponseCode || CmdCtr(LE) || TI.
func (s *SecureSession) VerifyResponseCMAC(responseCode byte, receivedCMACt []byte) error {
	return s.VerifyResponseCMACWithData(responseCode, nil, receivedCMACt)
}

// VerifyResponseCMACWithData checks CMACt over
// ResponseCode || CmdCtr(LE) || TI || ResponseData, in constant time.
func (s *SecureSession) VerifyResponseCMACWithData(responseCode byte, responseData, receivedCMACt []byte) error {
	if len(receivedCMACt) != cmacTruncSize {
		return errs.Newf(errs.MalformedResponse, "ntag424: cmac must be %d bytes, got %d", cmacTruncSize, len(receivedCMACt))
	}

	input := make([]byte, 0, 7+len(responseData))
	input = append(input, responseCode)
	var ctr [2]byte
	binary.LittleEndian.PutUint16(ctr[:], s.cmdCtr)
	input = append(input, ctr[:]...)
	input = append(input, s.ti[:]...)
	input = append(input, responseData...)
	if len(input) > maxSecureMacBuf {
		return errs.Newf(errs.Unspecified, "ntag424: cmac input too large (%d bytes)", len(input))
	}

	expected, err := s.calculateCMACt(input)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected[:], receivedCMACt) != 1 {
		return errs.New(errs.Unauthenticated, errMACMismatch)
	}
	return nil
}

// EncryptCommandData ISO 7816-4 pads plaintext then AES-CBC encrypts it
// under IVCmd.
func (s *SecureSession) EncryptCommandData(plaintext []byte) ([]byte, error) {
	padded := applyPadding(plaintext)
	iv, err := s.IVCmd()
	if err != nil {
		return nil, err
	}
	return aesCBCEncrypt(s.sesEncKey[:], iv[:], padded)
}

// DecryptResponseData AES-CBC decrypts ciphertext under IVResp and strips
// ISO 7816-4 padding.
func (s *SecureSession) DecryptResponseData(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%16 != 0 {
		return nil, errs.Newf(errs.MalformedResponse, "ntag424: ciphertext length %d not a multiple of 16", len(ciphertext))
	}
	iv, err := s.IVResp()
	if err != nil {
		return nil, err
	}
	padded, err := aesCBCDecrypt(s.sesEncKey[:], iv[:], ciphertext)
	if err != nil {
		return nil, err
	}
	return stripPadding(padded)
}

// IncrementCounter advances CmdCtr. It reports false without mutating state
// once the counter has reached 0xFFFF — the session is exhausted and must
// be discarded.
func (s *SecureSession) IncrementCounter() bool {
	if s.cmdCtr == 0xFFFF {
		return false
	}
	s.cmdCtr++
	return true
}

func applyPadding(data []byte) []byte {
	paddedLen := (len(data)/16 + 1) * 16
	out := make([]byte, paddedLen)
	copy(out, data)
	out[len(data)] = paddingByte
	return out
}

func stripPadding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errs.New(errs.MalformedResponse, errBadPadding)
	}
	for i := len(data); i > 0; i-- {
		switch data[i-1] {
		case paddingByte:
			return data[:i-1], nil
		case 0x00:
			continue
		default:
			return nil, errs.New(errs.MalformedResponse, errBadPadding)
		}
	}
	return nil, errs.New(errs.MalformedResponse, errBadPadding)
}
