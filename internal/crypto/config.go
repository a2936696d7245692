package crypto

import "fmt"

// EncryptCredential encrypts a single vjudge account credential value (a
// token string or a password) before it is written to the store. If key is
// nil, the value is returned unchanged (no-op, e.g. when no encryption key
// is configured).
func EncryptCredential(plaintext string, key []byte) (string, error) {
	if key == nil {
		return plaintext, nil
	}

	enc, err := Encrypt(plaintext, key)
	if err != nil {
		return "", fmt.Errorf("encrypt credential: %w", err)
	}

	return enc, nil
}

// DecryptCredential reverses EncryptCredential. Values without the "enc:"
// prefix are returned unchanged, so plaintext credentials written before
// encryption was enabled continue to work.
func DecryptCredential(ciphertext string, key []byte) (string, error) {
	if key == nil {
		return ciphertext, nil
	}

	dec, err := Decrypt(ciphertext, key)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}

	return dec, nil
}
