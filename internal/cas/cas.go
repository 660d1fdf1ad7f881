// Package cas implements a minimal content-addressed blob store. spec.md
// §1 leaves the storage layout an explicit non-goal; this package only
// commits to the narrow interface the commit pipeline and manifest
// readers need (write-then-read-by-digest), grounded on the teacher's
// filesystem path-join idiom in storage/sqlite's dbPath handling.
package cas

import (
	"os"
	"path/filepath"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/idgen"
)

// Store is the narrow capability the commit pipeline and manifest/diff
// readers depend on. Hint is an advisory filename fragment (e.g.
// "manifest", "ep"); implementations may ignore it.
type Store interface {
	Write(data []byte, hint string) (digest string, err error)
	Read(digest string) ([]byte, error)
}

// FSStore is a filesystem-backed CAS rooted at Dir. Blobs are named by
// their hex SHA-256 digest; Hint is not reflected in the path, since the
// digest alone is the addressing scheme.
type FSStore struct {
	Dir string
}

// NewFSStore returns an FSStore rooted at dir, creating it if absent.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, exerr.Wrap("cas.new_fs_store", err)
	}
	return &FSStore{Dir: dir}, nil
}

// Write stores data under its content digest and returns the digest.
// Writing the same bytes twice is idempotent: the second write overwrites
// identical content with itself.
func (f *FSStore) Write(data []byte, _ string) (string, error) {
	digest := idgen.Sha256Hex(data)
	path := filepath.Join(f.Dir, digest)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", exerr.Wrap("cas.write", err)
	}
	return digest, nil
}

// Read loads the blob stored under digest, failing with KindMissingBlob
// if absent.
func (f *FSStore) Read(digest string) ([]byte, error) {
	path := filepath.Join(f.Dir, digest)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, exerr.New(exerr.KindMissingBlob, "cas.read").WithMessage(digest)
		}
		return nil, exerr.Wrap("cas.read", err)
	}
	return data, nil
}
