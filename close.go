package countrydb

import "errors"

// Close stops the worker pool, waits for queued queries and releases the
// table. Close is idempotent; later calls return nil.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	pool, tbl := db.pool, db.table
	db.pool, db.table = nil, nil
	db.mu.Unlock()

	var errs []error
	if pool != nil {
		errs = append(errs, pool.Close())
	}
	if tbl != nil {
		errs = append(errs, tbl.Close())
	}
	db.cache.Purge()
	return translateError(errors.Join(errs...))
}
