// Package encrypted wraps a BlobStore so that blobs are stored as age
// ciphertext using an X25519 identity.
package encrypted

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// Backend encrypts on Write and decrypts on Read, delegating storage to an
// inner BlobStore.
type Backend struct {
	inner     nodestore.BlobStore
	identity  age.Identity
	recipient age.Recipient
}

var _ nodestore.BlobStore = (*Backend)(nil)

// New wraps inner using the given AGE-SECRET-KEY identity.
func New(inner nodestore.BlobStore, identity string) (*Backend, error) {
	if inner == nil {
		return nil, errors.New("inner blob store is required")
	}
	id, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	return &Backend{inner: inner, identity: id, recipient: id.Recipient()}, nil
}

// NewFromFile reads the identity from an age key file, as written by
// age-keygen or GenerateIdentity.
func NewFromFile(inner nodestore.BlobStore, path string) (*Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return &Backend{inner: inner, identity: x, recipient: x.Recipient()}, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity found in %s", path)
}

// GenerateIdentity returns a new identity and its public recipient.
func GenerateIdentity() (identity, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating key pair: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

// Write streams age ciphertext of r to the inner store.
func (b *Backend) Write(ctx context.Context, uuid string, r io.Reader, mimetype string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(b.encrypt(r, pw))
	}()

	err := b.inner.Write(ctx, uuid, pr, mimetype)
	// Unblock the encrypting goroutine if the inner store stopped reading early
	pr.CloseWithError(io.ErrClosedPipe)
	return err
}

func (b *Backend) encrypt(r io.Reader, w io.Writer) error {
	encWriter, err := age.Encrypt(w, b.recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Read returns a reader yielding the decrypted blob.
func (b *Backend) Read(ctx context.Context, uuid string) (io.ReadCloser, error) {
	rc, err := b.inner.Read(ctx, uuid)
	if err != nil {
		return nil, err
	}
	decReader, err := age.Decrypt(rc, b.identity)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	return &decryptedReader{Reader: decReader, closer: rc}, nil
}

// Delete removes the ciphertext from the inner store.
func (b *Backend) Delete(ctx context.Context, uuid string) error {
	return b.inner.Delete(ctx, uuid)
}

type decryptedReader struct {
	io.Reader
	closer io.Closer
}

func (d *decryptedReader) Close() error {
	return d.closer.Close()
}
