package worker

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/neadwerx/eventmanager/core/jsonmap"
)

// sessionKey namespaces a bare session key under the extension schema;
// custom GUCs require a two-part name. Keys that already carry a
// namespace are set verbatim.
func (w *Worker) sessionKey(key string) string {
	if strings.Contains(key, ".") {
		return key
	}
	return w.db.Schema + "." + key
}

// setSessionValues applies the item's session values as
// transaction-local configuration keys, so that downstream SQL sees the
// caller's context. A failure aborts the surrounding transaction.
func (w *Worker) setSessionValues(tx *sql.Tx, pairs []jsonmap.Pair) error {
	for _, pair := range pairs {
		if _, err := tx.Exec(setConfigQuery, w.sessionKey(pair.Key), pair.Value); err != nil {
			return fmt.Errorf("failed to set session value %s: %w", pair.Key, err)
		}
	}
	return nil
}

// clearSessionValues resets the same keys at the end of the
// transaction.
func (w *Worker) clearSessionValues(tx *sql.Tx, pairs []jsonmap.Pair) error {
	for _, pair := range pairs {
		if _, err := tx.Exec(clearConfigQuery, w.sessionKey(pair.Key)); err != nil {
			return fmt.Errorf("failed to clear session value %s: %w", pair.Key, err)
		}
	}
	return nil
}
