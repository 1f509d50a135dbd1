package metrics

import "time"

// StoreOp names a storage operation in the db_query_duration histogram.
type StoreOp string

const (
	OpSaveTransaction     StoreOp = "save_transaction"
	OpGetTransaction      StoreOp = "get_transaction"
	OpListTransactions    StoreOp = "list_transactions"
	OpSaveEntitlement     StoreOp = "save_entitlement"
	OpListEntitlements    StoreOp = "list_entitlements"
	OpReplaceEntitlements StoreOp = "replace_entitlements"
	OpArchiveTransactions StoreOp = "archive_transactions"
)

// TimeStoreOp starts timing op against backend. Call the returned func when
// the operation finishes:
//
//	defer metrics.TimeStoreOp(s.metrics, "postgres", metrics.OpGetTransaction)()
func TimeStoreOp(m *Metrics, backend string, op StoreOp) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(string(op), backend, time.Since(start))
	}
}
