package securemem

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// ErrWrongPassphrase is returned by Open when the passphrase does not
// decrypt the ciphertext.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// WorkFactor is the scrypt work factor (log2 N) used by Seal. Tests lower
// it; production code leaves the default.
//
//nolint:gochecknoglobals // Tunable for tests
var WorkFactor = 18

// Seal encrypts plaintext to an age scrypt recipient.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(WorkFactor)

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing encrypted data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts ciphertext produced by Seal into a secret.
func Open(ciphertext []byte, passphrase string, lock bool) (*Secret, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("initializing decryption: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		Zero(plaintext)
		return nil, fmt.Errorf("reading decrypted data: %w", err)
	}
	return FromBytes(plaintext, lock), nil
}
