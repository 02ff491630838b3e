// Package crypto wraps the two AES modes the Moonlight wire protocol mixes
// in the same session: CBC for the legacy video/audio/input content keys and
// GCM for the control-channel envelope (and input on GFE >= 7 / Sunshine).
// A single Context is shared by every stream so callers never touch
// crypto/aes or crypto/cipher directly.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey indicates the supplied key is not a valid AES key size.
	ErrInvalidKey = errors.New("invalid key size")
	// ErrDecryptionFailed indicates GCM authentication or CBC framing failed.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionFailed indicates the cipher could not be constructed or used.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Context bundles one AES block cipher in both the CBC and GCM modes the
// protocol needs, keyed by the same remote-input AES key negotiated during
// the RTSP handshake.
type Context struct {
	block cipher.Block
	aead  cipher.AEAD
}

// NewContext builds a Context over a 128/192/256-bit AES key.
func NewContext(key []byte) (*Context, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return &Context{block: block, aead: aead}, nil
}

// BlockSize is the underlying AES block size (always 16 for this cipher).
func (c *Context) BlockSize() int {
	if c.block == nil {
		return aes.BlockSize
	}
	return c.block.BlockSize()
}

// GCMNonceSize is the nonce length the AEAD mode expects.
func (c *Context) GCMNonceSize() int {
	if c.aead == nil {
		return 12
	}
	return c.aead.NonceSize()
}

// GCMOverhead is the authentication tag length appended by Seal.
func (c *Context) GCMOverhead() int {
	if c.aead == nil {
		return 16
	}
	return c.aead.Overhead()
}

// EncryptGCM seals plaintext and returns the ciphertext and authentication
// tag as separate slices, matching the wire layout control/stream.go and
// input/crypto.go build their envelopes around.
func (c *Context) EncryptGCM(plaintext, nonce, additionalData []byte) (ciphertext, tag []byte, err error) {
	if c.aead == nil {
		return nil, nil, ErrEncryptionFailed
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, nil, fmt.Errorf("%w: nonce must be %d bytes", ErrEncryptionFailed, c.aead.NonceSize())
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, additionalData)
	split := len(sealed) - c.aead.Overhead()
	return sealed[:split], sealed[split:], nil
}

// DecryptGCM reassembles ciphertext and tag and opens them against nonce and
// additionalData, returning ErrDecryptionFailed on any authentication mismatch.
func (c *Context) DecryptGCM(ciphertext, nonce, tag, additionalData []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrDecryptionFailed
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrDecryptionFailed, c.aead.NonceSize())
	}

	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plaintext, err := c.aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptCBC pads plaintext with PKCS7 and encrypts it under CBC, the mode
// used for pre-GCM video/audio frame and RTSP session-key encryption.
func (c *Context) EncryptCBC(plaintext, iv []byte) ([]byte, error) {
	if c.block == nil {
		return nil, ErrEncryptionFailed
	}
	blockSize := c.block.BlockSize()
	if len(iv) != blockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrEncryptionFailed, blockSize)
	}

	padded := pkcs7Pad(plaintext, blockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	return out, nil
}

// DecryptCBC reverses EncryptCBC, stripping PKCS7 padding from the result.
func (c *Context) DecryptCBC(ciphertext, iv []byte) ([]byte, error) {
	if c.block == nil {
		return nil, ErrDecryptionFailed
	}
	blockSize := c.block.BlockSize()
	if len(iv) != blockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrDecryptionFailed, blockSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext must be a multiple of %d bytes", ErrDecryptionFailed, blockSize)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, blockSize), nil
}

// EncryptCBCPadToBlock zero-pads plaintext up to the next block boundary
// instead of PKCS7-padding it, which is what the input channel wants: a
// deterministic ciphertext length per control message rather than one that
// reveals whether the plaintext ended exactly on a block boundary.
func (c *Context) EncryptCBCPadToBlock(plaintext, iv []byte) ([]byte, error) {
	if c.block == nil {
		return nil, ErrEncryptionFailed
	}
	blockSize := c.block.BlockSize()

	padded := make([]byte, roundUpToBlock(len(plaintext), blockSize))
	copy(padded, plaintext)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	return out, nil
}

func roundUpToBlock(n, blockSize int) int {
	if n == 0 {
		return blockSize
	}
	return ((n + blockSize - 1) / blockSize) * blockSize
}

// pkcs7Pad appends the standard PKCS7 padding: every added byte holds the
// padding length, including a full extra block when the input already sits
// on a block boundary.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// pkcs7Unpad strips PKCS7 padding if the trailing bytes form a valid pad run,
// and returns the input unchanged otherwise (some Moonlight hosts send CBC
// frames that were never PKCS7-padded to begin with).
func pkcs7Unpad(data []byte, blockSize int) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen <= 0 || padLen > blockSize || padLen > len(data) {
		return data
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return data
		}
	}
	return data[:len(data)-padLen]
}
