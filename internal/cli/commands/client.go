package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dmarceye/internal/store"
)

// StoreOpener connects the CLI to the report store.
type StoreOpener func() (*store.Store, error)

var now = time.Now

func openStore(open StoreOpener) (*store.Store, error) {
	st, err := open()
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %v", err)
	}
	return st, nil
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ID: %v", err)
	}
	return uint(id), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
