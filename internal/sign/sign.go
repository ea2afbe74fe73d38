// Package sign implements the Signature Verifier component named in
// spec.md §4.5: OpenPGP verification of an APT repository's signed root,
// either clearsigned (InRelease) or detached (Release + Release.gpg).
package sign

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// ErrNoMatchingKey is returned when no entity in the configured keyring
// produced a valid signature.
var ErrNoMatchingKey = errors.New("sign: no matching public key")

// Verifier is the interface internal/executor depends on. A nil Verifier is
// a documented no-op: when a repository configures no public keys,
// verification is skipped entirely (spec.md §4.5), and the decision of
// whether to construct one is made by the caller assembling the Executor's
// dependencies, not by this package.
type Verifier interface {
	// VerifyDetached checks sig as a detached signature over root.
	VerifyDetached(ctx context.Context, root, sig []byte) error
	// VerifyClearsigned checks and strips a clearsigned root, returning the
	// verified plaintext body.
	VerifyClearsigned(ctx context.Context, clearsigned []byte) ([]byte, error)
}

// OpenPGPVerifier wraps github.com/ProtonMail/go-crypto/openpgp.
type OpenPGPVerifier struct {
	Keyring openpgp.EntityList
}

var _ Verifier = (*OpenPGPVerifier)(nil)

// NewOpenPGPVerifier parses one or more armored public keys into a keyring.
func NewOpenPGPVerifier(armoredKeys ...string) (*OpenPGPVerifier, error) {
	var keyring openpgp.EntityList
	for _, k := range armoredKeys {
		entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(k))
		if err != nil {
			return nil, fmt.Errorf("sign: reading armored key: %w", err)
		}
		keyring = append(keyring, entities...)
	}
	return &OpenPGPVerifier{Keyring: keyring}, nil
}

func (v *OpenPGPVerifier) VerifyDetached(_ context.Context, root, sig []byte) error {
	_, err := openpgp.CheckDetachedSignature(v.Keyring, bytes.NewReader(root), bytes.NewReader(sig), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoMatchingKey, err)
	}
	return nil
}

func (v *OpenPGPVerifier) VerifyClearsigned(_ context.Context, clearsigned []byte) ([]byte, error) {
	block, _ := clearsign.Decode(clearsigned)
	if block == nil {
		return nil, fmt.Errorf("sign: not a clearsigned document")
	}
	_, err := openpgp.CheckDetachedSignature(v.Keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMatchingKey, err)
	}
	return block.Plaintext, nil
}

// NoopVerifier always succeeds, and is used when the caller wants an
// explicit, auditable representation of "verification skipped" rather than
// a nil Verifier check scattered through the executor.
type NoopVerifier struct{}

var _ Verifier = NoopVerifier{}

func (NoopVerifier) VerifyDetached(context.Context, []byte, []byte) error { return nil }

func (NoopVerifier) VerifyClearsigned(_ context.Context, clearsigned []byte) ([]byte, error) {
	block, _ := clearsign.Decode(clearsigned)
	if block == nil {
		return clearsigned, nil
	}
	return block.Plaintext, nil
}

// ReadAll is a small helper for callers staging a fetched root before
// verification.
func ReadAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
