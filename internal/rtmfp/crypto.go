package rtmfp

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// aesBlockSize is the AES block size in bytes; payloads handed to Engine
// must be a multiple of this length, matching the wire framing's padding
// requirement (§4.2, §6).
const aesBlockSize = aes.BlockSize

// publicKey is RTMFP's well-known symmetric key, used for both directions
// of session-id-0 handshake traffic before per-session keys exist. This is
// the same fixed key every RTMFP implementation ships; it is not a secret.
var publicKey = [16]byte{
	0x52, 0x54, 0x4d, 0x46, 0x50, 0x20, 0x31, 0x30,
	0x30, 0x31, 0x20, 0x30, 0x10, 0x19, 0x17, 0x00,
}

// Engine performs AES-128-CBC encrypt/decrypt for one session's traffic, with
// a fixed all-zero IV per direction as the protocol specifies. A direct
// stdlib crypto/aes + crypto/cipher implementation is used here, the same
// way the teacher reaches for crypto/md5, crypto/sha1, and crypto/subtle
// directly for its own RFC-mandated primitives rather than a third-party
// crypto package: AES-CBC is a primitive the standard library implements
// completely and correctly.
type Engine struct {
	decryptKey [16]byte
	encryptKey [16]byte
}

// NewSymmetricEngine returns an Engine that uses the well-known public key
// for both directions, for session-id-0 (handshake) traffic.
func NewSymmetricEngine() *Engine {
	return &Engine{decryptKey: publicKey, encryptKey: publicKey}
}

// NewAsymmetricEngine returns an Engine using distinct per-direction keys,
// as derived by the handshake for an established session.
func NewAsymmetricEngine(decryptKey, encryptKey [16]byte) *Engine {
	return &Engine{decryptKey: decryptKey, encryptKey: encryptKey}
}

// Decrypt decrypts buf in place using the engine's decrypt key. len(buf)
// must be a multiple of the AES block size.
func (e *Engine) Decrypt(buf []byte) error {
	return process(e.decryptKey, buf)
}

// Encrypt encrypts buf in place using the engine's encrypt key. len(buf)
// must be a multiple of the AES block size; callers pad the framed packet
// to a block boundary before calling Encrypt (§4.2).
func (e *Engine) Encrypt(buf []byte) error {
	return encryptProcess(e.encryptKey, buf)
}

// process runs buf through the AES-128-CBC decrypter with a fixed all-zero
// IV, in place.
func process(key [16]byte, buf []byte) error {
	if len(buf)%aesBlockSize != 0 {
		return fmt.Errorf("process %d bytes: %w", len(buf), ErrInvalidAESLength)
	}
	if len(buf) == 0 {
		return nil
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("new AES cipher: %w", err)
	}

	var iv [aesBlockSize]byte
	mode := cipher.NewCBCDecrypter(block, iv[:])
	mode.CryptBlocks(buf, buf)
	return nil
}

// encryptProcess runs buf through the AES-128-CBC encrypter with a fixed
// all-zero IV, in place.
func encryptProcess(key [16]byte, buf []byte) error {
	if len(buf)%aesBlockSize != 0 {
		return fmt.Errorf("process %d bytes: %w", len(buf), ErrInvalidAESLength)
	}
	if len(buf) == 0 {
		return nil
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("new AES cipher: %w", err)
	}

	var iv [aesBlockSize]byte
	mode := cipher.NewCBCEncrypter(block, iv[:])
	mode.CryptBlocks(buf, buf)
	return nil
}
