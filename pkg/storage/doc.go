/*
Package storage provides the durable mirror abstraction behind corridor windows.

# Storage Interface

The in-memory windows are authoritative for analytics. Every accepted window is
also written through to a mirror so a restart can rehydrate the latest samples:

	type Storage interface {
	    Write(ctx context.Context, corridor traffic.CorridorID, samples []traffic.Sample) error
	    Query(ctx context.Context, req QueryRequest) ([]traffic.Sample, error)
	    Delete(ctx context.Context, before time.Time) error
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Backends

  - csvfile: one CSV file per corridor holding the current window (default)
  - memory: in-process history for tests
  - badger: BadgerDB history, keyed by corridor hash and timestamp
  - sqlite: single-file SQL history (WAL mode)
  - postgres: shared SQL history through a pgx pool

The csvfile backend is a snapshot mirror: each Write replaces the corridor file.
The other backends keep history, so Query with a Limit returns the newest samples
and the retention task calls Delete to bound their size.

# Context Handling

All backends honour ctx cancellation. Slow disks surface as a wrapped
context error ("... cancelled: context deadline exceeded"), which the window
store logs and counts as a transient mirror fault.
*/
package storage
