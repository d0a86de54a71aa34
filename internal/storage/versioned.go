// Keeps every saved revision of the document in git.

package storage

import (
	"context"
	"path/filepath"

	"github.com/maruel/jsondb/internal/jsondb"
	"github.com/maruel/jsondb/internal/storage/git"
)

// VersionedBackend is a FileBackend whose file lives at the root of a git
// working tree. Every save is committed.
type VersionedBackend struct {
	*FileBackend
	repo *git.Repo
	name string
}

// NewVersionedBackend returns a backend for path. The directory holding path
// is opened as a git repository, or initialized when it is not one.
func NewVersionedBackend(path string, author git.Author) (*VersionedBackend, error) {
	fb, err := NewFileBackend(path)
	if err != nil {
		return nil, err
	}
	repo, err := git.Open(filepath.Dir(fb.Path()), author)
	if err != nil {
		return nil, err
	}
	return &VersionedBackend{FileBackend: fb, repo: repo, name: filepath.Base(fb.Path())}, nil
}

// CreateEmpty implements jsondb.Backend.
func (v *VersionedBackend) CreateEmpty() error {
	return v.SaveChange(jsondb.EmptyDocument(), "create "+v.name)
}

// Save implements jsondb.Backend.
func (v *VersionedBackend) Save(doc *jsondb.Document) error {
	return v.SaveChange(doc, "update "+v.name)
}

// SaveChange implements jsondb.ChangeSaver.
func (v *VersionedBackend) SaveChange(doc *jsondb.Document, summary string) error {
	return v.repo.CommitTx(context.Background(), func() (string, []string, error) {
		if err := v.FileBackend.Save(doc); err != nil {
			return "", nil, err
		}
		return summary, []string{v.name}, nil
	})
}

// History returns up to n revisions of the document, newest first.
func (v *VersionedBackend) History(ctx context.Context, n int) ([]*git.Commit, error) {
	return v.repo.History(ctx, v.name, n)
}

// Revision returns the document as committed at hash.
func (v *VersionedBackend) Revision(ctx context.Context, hash string) (*jsondb.Document, error) {
	data, err := v.repo.FileAt(ctx, hash, v.name)
	if err != nil {
		return nil, err
	}
	return jsondb.DecodeDocument(data)
}
