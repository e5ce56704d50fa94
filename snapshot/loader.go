package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Load reads the snapshot in dir. A missing snapshot is not an error;
// Load returns nil and the caller starts from empty state.
func Load(dir string) (*State, error) {
	f, err := os.Open(filepath.Join(dir, fileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open snapshot")
	}
	defer f.Close()

	var s State
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot")
	}
	return &s, nil
}
