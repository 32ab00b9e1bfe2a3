package storage

import (
	"fmt"
	"strings"
)

// Backend names accepted by OpenKV.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// OpenKV opens the named backend at path. An empty backend means sqlite.
func OpenKV(backend, path string) (KV, error) {
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		return Open(path)
	case BackendBadger:
		return OpenBadger(path)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", backend)
	}
}
