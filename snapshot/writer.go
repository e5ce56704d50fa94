package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const fileName = "snapshot.bin"

type Writer struct {
	Dir string
}

// Write replaces the snapshot in Dir. The new file is written beside the
// old one and renamed over it, so a crash leaves one complete snapshot.
func (w *Writer) Write(s *State) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create snapshot dir")
	}

	tmp, err := os.CreateTemp(w.Dir, fileName+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create snapshot file")
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(s); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to encode snapshot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close snapshot")
	}

	return errors.Wrap(os.Rename(tmp.Name(), filepath.Join(w.Dir, fileName)), "failed to publish snapshot")
}
