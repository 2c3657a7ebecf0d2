package keyprovider

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
	"github.com/werkstattwaedi/machine-auth-sub000/ntag424"
)

var errRndARotationMismatch = errors.New("keyprovider: RndA rotation check failed")

// Local authenticates against a key the terminal itself holds: it decrypts
// the tag's challenge, generates its own RndA, and derives session keys
// per the NXP AN12196 AuthenticateEV2First key-derivation scheme.
//
// Decrypted Part-3 response layout follows AN12196 exactly:
// TI(4) || RndA'(16) || PICCCapabilities(6) || PCDCapabilities(6) = 32 bytes.
type Local struct {
	key    [16]byte
	slot   KeySlot
	random io.Reader // crypto/rand.Reader in production; a fixed-byte reader in tests

	// rndA and rndB are retained across the ComputePart2Response ->
	// VerifyAndDeriveSession call pair to build SV1/SV2.
	rndA [16]byte
	rndB [16]byte
}

var _ ntag424.KeyProvider = (*Local)(nil)

// NewLocal constructs a Local key provider for the given 16-byte key and
// slot, drawing RndA from crypto/rand.
func NewLocal(key [16]byte, slot KeySlot) *Local {
	return &Local{key: key, slot: slot, random: rand.Reader}
}

// NewLocalWithRandomSource is NewLocal with an injectable randomness
// source, for deterministic tests.
func NewLocalWithRandomSource(key [16]byte, slot KeySlot, random io.Reader) *Local {
	return &Local{key: key, slot: slot, random: random}
}

// KeySlot implements ntag424.KeyProvider.
func (l *Local) KeySlot() byte { return byte(l.slot) }

// ComputePart2Response implements ntag424.KeyProvider.
func (l *Local) ComputePart2Response(_ context.Context, encryptedRndB []byte) ([]byte, error) {
	if len(encryptedRndB) != 16 {
		return nil, errs.Newf(errs.MalformedResponse, "keyprovider: encrypted RndB length %d, want 16", len(encryptedRndB))
	}

	rndB, err := aesCBCDecryptZeroIV(l.key[:], encryptedRndB)
	if err != nil {
		return nil, err
	}
	copy(l.rndB[:], rndB)

	if _, err := io.ReadFull(l.random, l.rndA[:]); err != nil {
		return nil, errs.New(errs.Unspecified, err)
	}

	rotatedRndB := rotateLeftOneByte(l.rndB[:])
	plaintext := append(append([]byte{}, l.rndA[:]...), rotatedRndB...)
	return aesCBCEncryptZeroIV(l.key[:], plaintext)
}

// VerifyAndDeriveSession implements ntag424.KeyProvider.
func (l *Local) VerifyAndDeriveSession(_ context.Context, encryptedPart3Response []byte) (sesEncKey, sesMacKey [16]byte, ti [4]byte, picc [6]byte, err error) {
	if len(encryptedPart3Response) != 32 {
		err = errs.Newf(errs.MalformedResponse, "keyprovider: encrypted part3 response length %d, want 32", len(encryptedPart3Response))
		return
	}

	plaintext, decErr := aesCBCDecryptZeroIV(l.key[:], encryptedPart3Response)
	if decErr != nil {
		err = decErr
		return
	}

	copy(ti[:], plaintext[0:4])
	rndAPrime := plaintext[4:20]
	copy(picc[:], plaintext[20:26])

	wantRndAPrime := rotateLeftOneByte(l.rndA[:])
	if subtle.ConstantTimeCompare(wantRndAPrime, rndAPrime) != 1 {
		err = errs.New(errs.Unauthenticated, errRndARotationMismatch)
		return
	}

	sv1 := buildSV(0xA5, 0x5A, l.rndA, l.rndB)
	sv2 := buildSV(0x5A, 0xA5, l.rndA, l.rndB)

	encKey, cmacErr := ntag424.CMAC(l.key[:], sv1)
	if cmacErr != nil {
		err = cmacErr
		return
	}
	macKey, cmacErr := ntag424.CMAC(l.key[:], sv2)
	if cmacErr != nil {
		err = cmacErr
		return
	}
	sesEncKey, sesMacKey = encKey, macKey
	return
}

// CancelAuthentication implements ntag424.KeyProvider. A Local provider has
// no outstanding cloud state; this is a no-op beyond discarding RndA.
func (l *Local) CancelAuthentication(_ context.Context) {
	for i := range l.rndA {
		l.rndA[i] = 0
	}
}

func buildSV(prefix0, prefix1 byte, rndA, rndB [16]byte) []byte {
	sv := make([]byte, 0, 22)
	sv = append(sv, prefix0, prefix1, 0x00, 0x01, 0x00, 0x80)
	sv = append(sv, rndA[0:2]...)
	xored := make([]byte, 6)
	for i := 0; i < 6; i++ {
		xored[i] = rndA[2+i] ^ rndB[i]
	}
	sv = append(sv, xored...)
	sv = append(sv, rndB[6:16]...)
	sv = append(sv, rndA[8:16]...)
	return sv
}

func rotateLeftOneByte(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	out := make([]byte, len(b))
	copy(out, b[1:])
	out[len(b)-1] = b[0]
	return out
}

func aesCBCDecryptZeroIV(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.Unspecified, err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, errs.Newf(errs.MalformedResponse, "keyprovider: ciphertext length %d not a multiple of block size", len(ciphertext))
	}
	var iv [16]byte
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, ciphertext)
	return out, nil
}

func aesCBCEncryptZeroIV(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.Unspecified, err)
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, errs.Newf(errs.Unspecified, "keyprovider: plaintext length %d not a multiple of block size", len(plaintext))
	}
	var iv [16]byte
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, plaintext)
	return out, nil
}
