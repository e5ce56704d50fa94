package entry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	segmentPrefix = "segment-"
	segmentSuffix = ".wal"
)

type segment struct {
	path   string
	file   *os.File
	offset int64
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%06d%s", segmentPrefix, index, segmentSuffix))
}

func openSegment(dir string, index int) (*segment, error) {
	path := segmentPath(dir, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open segment")
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to stat segment")
	}
	return &segment{path: path, file: f, offset: st.Size()}, nil
}

func (s *segment) append(b []byte) error {
	n, err := s.file.Write(b)
	s.offset += int64(n)
	return err
}

// rewind drops everything written after off.
func (s *segment) rewind(off int64) error {
	if err := s.file.Truncate(off); err != nil {
		return err
	}
	s.offset = off
	return nil
}

func (s *segment) sync() error {
	return s.file.Sync()
}

func (s *segment) close() error {
	return s.file.Close()
}

// segmentFiles lists segment paths in index order with their indices.
func segmentFiles(dir string) ([]string, []int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, segmentPrefix+"*"+segmentSuffix))
	if err != nil {
		return nil, nil, err
	}

	type seg struct {
		path  string
		index int
	}
	segs := make([]seg, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), segmentPrefix), segmentSuffix)
		idx, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		segs = append(segs, seg{path: p, index: idx})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].index < segs[j].index })

	out := make([]string, len(segs))
	idx := make([]int, len(segs))
	for i, s := range segs {
		out[i] = s.path
		idx[i] = s.index
	}
	return out, idx, nil
}
