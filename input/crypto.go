package input

import (
	"encoding/binary"

	"github.com/moonparty/moonlight-go/crypto"
)

// wire framing: every input packet is prefixed with a 4-byte big-endian
// length before being handed to the transport, matching
// InputStream.c's inputSendThreadProc.
const lengthPrefixSize = 4

// ivChainState tracks the persistent IV carried across packets: for
// AES-CBC (Gen<7) this mirrors the implicit chaining a single long-lived
// cipher context would produce; for AES-GCM (Gen>=7) it's an explicit
// quirk the protocol documents — the last 16 bytes of each sent
// ciphertext become the next packet's IV rather than a fresh nonce.
type ivChainState struct {
	iv []byte
}

func newIVChainState(initial []byte) *ivChainState {
	iv := make([]byte, 16)
	copy(iv, initial)
	return &ivChainState{iv: iv}
}

func (c *ivChainState) advance(ciphertext []byte) {
	if len(ciphertext) >= 16 {
		copy(c.iv, ciphertext[len(ciphertext)-16:])
	}
}

// encryptGCM7 encrypts plaintext using the Gen>=7 per-packet AES-GCM
// scheme, chaining the IV as described above, and returns the framed
// wire buffer (length prefix + ciphertext + 16-byte tag).
func encryptGCM7(ctx *crypto.Context, chain *ivChainState, plaintext []byte) ([]byte, error) {
	nonce := chain.iv[:12]
	ciphertext, tag, err := ctx.EncryptGCM(plaintext, nonce, nil)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	chain.advance(sealed)

	framed := make([]byte, lengthPrefixSize+len(sealed))
	binary.BigEndian.PutUint32(framed[0:4], uint32(len(sealed)))
	copy(framed[lengthPrefixSize:], sealed)
	return framed, nil
}

// encryptCBCPre7 encrypts plaintext using the pre-Gen7 AES-CBC scheme
// with PKCS7 padding, chaining the IV across calls the way a persistent
// cipher context would.
func encryptCBCPre7(ctx *crypto.Context, chain *ivChainState, plaintext []byte) ([]byte, error) {
	blockSize := 16
	padding := blockSize - (len(plaintext) % blockSize)
	padded := make([]byte, len(plaintext)+padding)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padding)
	}

	ciphertext, err := ctx.EncryptCBCPadToBlock(padded, chain.iv)
	if err != nil {
		return nil, err
	}
	chain.advance(ciphertext)

	framed := make([]byte, lengthPrefixSize+len(ciphertext))
	binary.BigEndian.PutUint32(framed[0:4], uint32(len(ciphertext)))
	copy(framed[lengthPrefixSize:], ciphertext)
	return framed, nil
}
