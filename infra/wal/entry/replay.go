package entry

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

type ReplayHandler func(*Record) error

// Replay feeds every record in dir to fn in sequence order and returns the
// last committed sequence seen. Marker records carry the sequence of the
// command they bracket and are passed through without advancing it. A record cut short at the end of a segment is a torn
// write and ends that segment; a checksum mismatch is an error.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	paths, _, err := segmentFiles(dir)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list segments")
	}

	for _, path := range paths {
		lastSeq, err = replaySegment(path, lastSeq, fn)
		if err != nil {
			return lastSeq, errors.Wrapf(err, "failed to replay %s", path)
		}
	}

	return lastSeq, nil
}

func replaySegment(path string, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return lastSeq, nil
			}
			return lastSeq, err
		}

		if rec.Seq <= lastSeq {
			return lastSeq, errors.Errorf("non-monotonic seq %d after %d", rec.Seq, lastSeq)
		}
		if !rec.Type.Marker() {
			lastSeq = rec.Seq
		}

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := RecordType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])

	data := make([]byte, int(l)+crcSize)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])

	if !CRC32Valid(append(header, payload...), crc) {
		return nil, errors.Errorf("crc mismatch at seq %d", seq)
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}
