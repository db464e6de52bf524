// Package database manages the single PostgreSQL connection used to
// persist the event log.
//
// # Architecture
//
// The manager deliberately holds ONE connection rather than a pool. The
// event recorder is the only writer and its volume is modest, so a pool
// would add failure modes without adding throughput. A mutex serializes
// every use of the connection; at most one live connection exists at
// any moment, including across reconnects.
//
// # Resilience
//
// Connection establishment retries with jittered exponential backoff
// (1s initial, 10s cap) up to a configurable overall deadline. When an
// operation fails with a connection-level error, Run discards the dead
// connection, reconnects, and retries the operation exactly once.
// Statement-level errors are never retried: bad SQL fails the same way
// on a fresh connection.
//
// # Shutdown
//
// Close refuses new work immediately, then waits a short grace period
// for an in-flight operation before closing the socket. A contended
// close is reported but never blocks shutdown.
//
// # Usage
//
//	store := database.New(cfg.Database, logger)
//	if err := store.Connect(ctx); err != nil {
//	    return err
//	}
//	defer store.Close(ctx)
//
//	err := store.Run(ctx, func(ctx context.Context, q database.Querier) error {
//	    _, err := q.Exec(ctx, `INSERT INTO events ...`, args...)
//	    return err
//	})
package database
