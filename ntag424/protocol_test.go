package ntag424

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeTransceiver scripts a fixed sequence of APDU responses keyed by the
// command byte at apdu[1], enough to drive SelectApplication, Authenticate,
// and GetCardUID without a real tag.
type fakeTransceiver struct {
	selectResp []byte
	authP1Resp []byte
	authP2Resp []byte
	uidResp    []byte

	cancelled bool
}

func (f *fakeTransceiver) Transceive(_ context.Context, apdu []byte) ([]byte, error) {
	switch {
	case apdu[1] == 0xA4:
		return f.selectResp, nil
	case apdu[1] == cmdAuthEV2First:
		return f.authP1Resp, nil
	case apdu[1] == cmdAuthEV2Part2:
		return f.authP2Resp, nil
	case apdu[1] == cmdGetCardUID:
		return f.uidResp, nil
	default:
		return nil, errBadPadding // any non-nil error, unused path
	}
}

// fakeKeyProvider implements KeyProvider with canned values, so a test can
// drive Authenticate deterministically.
type fakeKeyProvider struct {
	slot            byte
	part2Payload    []byte
	part2Err        error
	sesEncKey       [16]byte
	sesMacKey       [16]byte
	ti              [4]byte
	picCapabilities [6]byte
	verifyErr       error

	cancelled int
}

func (f *fakeKeyProvider) KeySlot() byte { return f.slot }
func (f *fakeKeyProvider) ComputePart2Response(context.Context, []byte) ([]byte, error) {
	return f.part2Payload, f.part2Err
}
func (f *fakeKeyProvider) VerifyAndDeriveSession(context.Context, []byte) ([16]byte, [16]byte, [4]byte, [6]byte, error) {
	return f.sesEncKey, f.sesMacKey, f.ti, f.picCapabilities, f.verifyErr
}
func (f *fakeKeyProvider) CancelAuthentication(context.Context) { f.cancelled++ }

func statusBytes(sw uint16) []byte {
	return []byte{byte(sw >> 8), byte(sw)}
}

func TestSelectApplicationSuccess(t *testing.T) {
	t.Parallel()
	tr := &fakeTransceiver{selectResp: statusBytes(0x9000)}
	require.NoError(t, SelectApplication(context.Background(), tr))
}

func TestSelectApplicationRejectsUnexpectedStatus(t *testing.T) {
	t.Parallel()
	tr := &fakeTransceiver{selectResp: statusBytes(0x6A82)}
	err := SelectApplication(context.Background(), tr)
	require.Error(t, err)
}

func TestAuthenticateHappyPath(t *testing.T) {
	t.Parallel()
	authP1 := make([]byte, 18)
	copy(authP1[16:], statusBytes(statusMoreData))

	authP2 := make([]byte, 34)
	copy(authP2[32:], statusBytes(statusSuccess))

	tr := &fakeTransceiver{
		authP1Resp: authP1,
		authP2Resp: authP2,
	}
	kp := &fakeKeyProvider{
		slot:         1,
		part2Payload: make([]byte, 32),
		sesEncKey:    [16]byte{1},
		sesMacKey:    [16]byte{2},
		ti:           [4]byte{3},
	}

	session, err := Authenticate(context.Background(), tr, kp)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, [16]byte{1}, session.sesEncKey)
	require.Zero(t, kp.cancelled)
}

func TestAuthenticateFailsWhenKeyProviderRejectsSession(t *testing.T) {
	t.Parallel()
	authP1 := make([]byte, 18)
	copy(authP1[16:], statusBytes(statusMoreData))
	authP2 := make([]byte, 34)
	copy(authP2[32:], statusBytes(statusSuccess))

	tr := &fakeTransceiver{authP1Resp: authP1, authP2Resp: authP2}
	kp := &fakeKeyProvider{
		part2Payload: make([]byte, 32),
		verifyErr:    errMACMismatch,
	}

	_, err := Authenticate(context.Background(), tr, kp)
	require.Error(t, err, "a mismatched terminal key must fail Authenticate")
}

func TestAuthenticateCancelsOnPart1Rejection(t *testing.T) {
	t.Parallel()
	authP1 := make([]byte, 18)
	copy(authP1[16:], statusBytes(0x6A82)) // not statusMoreData

	tr := &fakeTransceiver{authP1Resp: authP1}
	kp := &fakeKeyProvider{part2Payload: make([]byte, 32)}

	_, err := Authenticate(context.Background(), tr, kp)
	require.Error(t, err)
	require.Equal(t, 1, kp.cancelled)
}

func TestGetCardUIDRoundTrip(t *testing.T) {
	t.Parallel()
	s := testSession(t)

	realUID := []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	padded := applyPadding(realUID)
	iv, err := s.IVResp()
	require.NoError(t, err)
	ciphertext, err := aesCBCEncrypt(s.sesEncKey[:], iv[:], padded)
	require.NoError(t, err)

	cmacT, err := responseCMACt(t, s, ciphertext)
	require.NoError(t, err)

	resp := make([]byte, 0, 26)
	resp = append(resp, ciphertext...)
	resp = append(resp, cmacT[:]...)
	resp = append(resp, statusBytes(statusSuccess)...)

	tr := &fakeTransceiver{uidResp: resp}
	gotUID, err := GetCardUID(context.Background(), tr, s)
	require.NoError(t, err)
	require.Equal(t, realUID, gotUID)
	require.Equal(t, uint16(1), s.CommandCounter())
}

func TestGetCardUIDRejectsTamperedCiphertext(t *testing.T) {
	t.Parallel()
	s := testSession(t)

	realUID := []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	padded := applyPadding(realUID)
	iv, err := s.IVResp()
	require.NoError(t, err)
	ciphertext, err := aesCBCEncrypt(s.sesEncKey[:], iv[:], padded)
	require.NoError(t, err)
	cmacT, err := responseCMACt(t, s, ciphertext)
	require.NoError(t, err)

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[0] ^= 0xFF

	resp := make([]byte, 0, 26)
	resp = append(resp, tampered...)
	resp = append(resp, cmacT[:]...)
	resp = append(resp, statusBytes(statusSuccess)...)

	tr := &fakeTransceiver{uidResp: resp}
	_, err = GetCardUID(context.Background(), tr, s)
	require.Error(t, err)
}

// responseCMACt computes the CMACt a tag appends to a GetCardUID response:
// 0x00 || CmdCtr(LE) || TI || ciphertext under the not-yet-incremented counter.
func responseCMACt(t *testing.T, s *SecureSession, ciphertext []byte) ([cmacTruncSize]byte, error) {
	t.Helper()
	input := []byte{0x00, byte(s.cmdCtr), byte(s.cmdCtr >> 8)}
	input = append(input, s.ti[:]...)
	input = append(input, ciphertext...)
	return s.calculateCMACt(input)
}
