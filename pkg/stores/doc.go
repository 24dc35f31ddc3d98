// Package stores provides the SQLite run ledger for syncprobe.
// It records runs, the platform resources each run provisioned, the event
// timeline and an audit trail of destructive commands. Schema changes are
// applied with embedded golang-migrate migrations.
package stores
