package cli

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"labledger/config"
	"labledger/domain/chain"
	"labledger/domain/escrow"
	entrywal "labledger/infra/wal/entry"
)

func TestInspectReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Log: config.Log{Level: "error"},
		Storage: config.Storage{
			WALDir:      filepath.Join(dir, "wal"),
			SnapshotDir: filepath.Join(dir, "snapshots"),
		},
	}

	journal, err := entrywal.Open(entrywal.Config{Dir: cfg.Storage.WALDir, NoSync: true})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]interface{}{
		"orders": []map[string]interface{}{{
			"created": true,
			"order": escrow.Order{
				ID:           "order-1",
				Hash:         chain.Keccak256([]byte("order-1")),
				TestingPrice: big.NewInt(10),
				QCPrice:      big.NewInt(3),
				AmountPaid:   big.NewInt(13),
				Status:       escrow.StatusPaid,
			},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, journal.Append(entrywal.NewRecord(entrywal.RecordPayOrder, 1, payload)))
	intent := `[{"seq":2,"kind":"debit","account":"0xa000000000000000000000000000000000000001","amount":5}]`
	require.NoError(t, journal.Append(entrywal.NewRecord(entrywal.RecordIntent, 2, []byte(intent))))
	require.NoError(t, journal.Close())

	var out bytes.Buffer
	require.NoError(t, inspect(&out, cfg))
	require.Contains(t, out.String(), "committed_seq    1")
	require.Contains(t, out.String(), "orders           1")
	require.Contains(t, out.String(), "unreconciled     1")
	require.Contains(t, out.String(), "seq=2 debit 0xa000000000000000000000000000000000000001 5")
}

func TestRunUnknownCommand(t *testing.T) {
	devnull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer devnull.Close()
	stderr := os.Stderr
	os.Stderr = devnull
	defer func() { os.Stderr = stderr }()

	require.False(t, Run([]string{"labledger", "nope"}))
}
