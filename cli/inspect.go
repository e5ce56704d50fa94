package cli

import (
	"fmt"
	"io"

	"labledger/config"
	"labledger/service"
)

// inspect rebuilds state from the snapshot and journal without opening
// the token store or the outbox, so it is safe next to a running daemon.
func inspect(w io.Writer, cfg *config.Config) error {
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	ledger := service.NewLedger(service.Deps{Log: log})
	if err := ledger.Recover(cfg.Storage.SnapshotDir, cfg.Storage.WALDir, nil); err != nil {
		return err
	}

	fmt.Fprintf(w, "committed_seq    %d\n", ledger.Committed())
	fmt.Fprintf(w, "orders           %d\n", ledger.OrderCount())
	fmt.Fprintf(w, "service_requests %d\n", ledger.ServiceRequestCount())
	fmt.Fprintf(w, "lab_requests     %d\n", ledger.LabRequestCount())

	stranded := ledger.Unreconciled()
	fmt.Fprintf(w, "unreconciled     %d\n", len(stranded))
	for _, t := range stranded {
		fmt.Fprintf(w, "  seq=%d %s %s %s\n", t.Seq, t.Kind, t.Account, t.Amount)
	}
	return nil
}
