// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package invite

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/loom-foundation/loom/lib/secret"
)

// Prefix marks a string as a Loom invite.
const Prefix = "loom-invite:"

var (
	// ErrNotAnInvite: the string does not carry the invite prefix.
	ErrNotAnInvite = errors.New("invite: not a loom invite string")

	// ErrWrongPassphrase: the invite decoded but the passphrase does
	// not open it.
	ErrWrongPassphrase = errors.New("invite: wrong passphrase")
)

// Create encrypts the workspace secret under the invite passphrase and
// returns the shareable invite string.
func Create(workspaceSecret *secret.Buffer, passphrase *secret.Buffer) (string, error) {
	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return "", fmt.Errorf("invite: scrypt recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return "", fmt.Errorf("invite: encrypt: %w", err)
	}
	if _, err := writer.Write(workspaceSecret.Bytes()); err != nil {
		return "", fmt.Errorf("invite: write secret: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("invite: finalize: %w", err)
	}

	return Prefix + base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open decrypts an invite string with the passphrase and returns the
// workspace secret in a locked buffer. A well-formed invite with the
// wrong passphrase returns ErrWrongPassphrase.
func Open(inviteString string, passphrase *secret.Buffer) (*secret.Buffer, error) {
	encoded, ok := strings.CutPrefix(inviteString, Prefix)
	if !ok {
		return nil, ErrNotAnInvite
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invite: decoding base64: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("invite: scrypt identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		var noIdentity *age.NoIdentityMatchError
		if errors.As(err, &noIdentity) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("invite: decrypt: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		// age authenticates as it streams; a payload MAC failure
		// surfaces here.
		return nil, fmt.Errorf("invite: reading secret: %w", err)
	}
	return secret.NewFromBytes(plaintext)
}
