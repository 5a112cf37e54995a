package gateway

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// APIシークレットを鍵にしたAES-256-GCM。Webhookのresource封筒の復号に使う。
type AEAD struct {
	key []byte
}

func NewAEAD(key string) (*AEAD, error) {
	if len(key) != 32 {
		return nil, errors.New("api secret must be 32 bytes")
	}
	return &AEAD{key: []byte(key)}, nil
}

func (a *AEAD) open() (cipher.AEAD, error) {
	block, err := aes.NewCipher(a.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (a *AEAD) Decrypt(nonce, associatedData, ciphertextB64 string) ([]byte, error) {
	gcm, err := a.open()
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plain, err := gcm.Open(nil, []byte(nonce), ciphertext, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("decrypt resource: %w", err)
	}
	return plain, nil
}

func (a *AEAD) Encrypt(nonce, associatedData string, plaintext []byte) (string, error) {
	gcm, err := a.open()
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, []byte(nonce), plaintext, []byte(associatedData))
	return base64.StdEncoding.EncodeToString(sealed), nil
}
