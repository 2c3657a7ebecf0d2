package ntag424

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

var (
	errMACMismatch = errors.New("ntag424: cmac verification failed")
	errBadPadding  = errors.New("ntag424: invalid iso 7816-4 padding")
)

// aesCBCEncrypt encrypts plaintext (already a multiple of the block size)
// under key/iv using AES-CBC.
func aesCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, errors.New("ntag424: plaintext is not a multiple of the block size")
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// aesCBCDecrypt decrypts ciphertext (a multiple of the block size) under
// key/iv using AES-CBC.
func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("ntag424: ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// CMAC computes the full 16-byte AES-CMAC (NIST SP 800-38B / RFC 4493) of
// data under key. Exported for the keyprovider package's session-key
// derivation, which needs the same primitive outside the truncated
// CMACt used by secure messaging.
func CMAC(key, data []byte) ([16]byte, error) {
	return aesCMAC(key, data)
}

// aesCMAC computes the full 16-byte AES-CMAC (NIST SP 800-38B / RFC 4493)
// of data under key. The standard library has no CMAC primitive, and no
// third-party CMAC package appears anywhere in the reference corpus, so
// this is a direct, from-scratch implementation on top of crypto/aes.
func aesCMAC(key, data []byte) ([16]byte, error) {
	var zero [16]byte
	block, err := aes.NewCipher(key)
	if err != nil {
		return zero, err
	}

	k1, k2 := deriveSubkeys(block)

	blockSize := block.BlockSize()
	var mLast []byte
	var fullBlocks []byte
	if len(data) == 0 || len(data)%blockSize != 0 {
		padded := applyPadding(data)
		// applyPadding always yields exactly one padded trailing block
		// beyond the complete blocks already in data.
		mLast = xorBytes(padded[len(padded)-blockSize:], k2[:])
		fullBlocks = data[:len(data)-len(data)%blockSize]
	} else {
		mLast = xorBytes(data[len(data)-blockSize:], k1[:])
		fullBlocks = data[:len(data)-blockSize]
	}

	var x [16]byte
	for i := 0; i+blockSize <= len(fullBlocks); i += blockSize {
		y := xorBytes(x[:], fullBlocks[i:i+blockSize])
		var enc [16]byte
		block.Encrypt(enc[:], y)
		x = enc
	}

	y := xorBytes(x[:], mLast)
	var out [16]byte
	block.Encrypt(out[:], y)
	return out, nil
}

// deriveSubkeys implements the RFC 4493 subkey generation algorithm.
func deriveSubkeys(block cipher.Block) (k1, k2 [16]byte) {
	var zero, l [16]byte
	block.Encrypt(l[:], zero[:])

	k1 = shiftLeftOne(l)
	if l[0]&0x80 != 0 {
		k1[15] ^= 0x87
	}

	k2 = shiftLeftOne(k1)
	if k1[0]&0x80 != 0 {
		k2[15] ^= 0x87
	}
	return k1, k2
}

func shiftLeftOne(in [16]byte) [16]byte {
	var out [16]byte
	var carry byte
	for i := 15; i >= 0; i-- {
		out[i] = (in[i] << 1) | carry
		carry = (in[i] & 0x80) >> 7
	}
	return out
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
