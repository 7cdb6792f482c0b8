// Package syncstore is the durable home for everything the indexing
// pipeline learns about chain data: raw blocks/transactions/logs, the
// intervals that have been synced per log filter and per factory, factory
// child-address derivation, an RPC result cache, and the paginated decoded
// event queries the scheduler reads from. Every public method is wrapped in
// a retry envelope (retry.go) and every write is idempotent: re-inserting a
// block, transaction, or log that is already present is a no-op, not an
// error, so a crashed-and-restarted collector can safely replay its last
// batch.
package syncstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evmindex/evmindex/internal/interval"
	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/pkg/config"
	"github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
)

// Store is the SQLite-backed Sync Store.
type Store struct {
	db       *sql.DB
	log      *logger.Logger
	retryCfg *config.RetryConfig
}

func New(db *sql.DB, log *logger.Logger, retryCfg *config.RetryConfig) *Store {
	return &Store{db: db, log: log.WithComponent("sync-store"), retryCfg: retryCfg}
}

// InsertLogFilterInterval idempotently persists block, its transactions and
// logs, and records [start,end] as synced for fragment. Interval rows are
// stored as a flat list and compacted (unioned) on read, mirroring the
// teacher's coverage-row-per-sync-call shape in fetcher/store/log_store.go.
func (s *Store) InsertLogFilterInterval(ctx context.Context, fragment Fragment, block *Block, txs []Transaction, logs []Log, iv interval.Interval) error {
	return withRetry(ctx, s.retryCfg, "insert_log_filter_interval", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("syncstore: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := insertChainData(ctx, tx, block, txs, logs); err != nil {
			return err
		}

		if err := upsertLogFilter(ctx, tx, fragment); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO log_filter_intervals (log_filter_id, start_block, end_block) VALUES (?, ?, ?)`,
			fragment.ID(), iv.Start, iv.End); err != nil {
			return fmt.Errorf("syncstore: insert log filter interval: %w", err)
		}

		return tx.Commit()
	})
}

// InsertRealtimeInterval records [start,end] as synced for fragment without
// touching block/tx/log rows (those are written separately via
// InsertRealtimeBlock as each realtime block arrives).
func (s *Store) InsertRealtimeInterval(ctx context.Context, fragment Fragment, iv interval.Interval) error {
	return withRetry(ctx, s.retryCfg, "insert_realtime_interval", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("syncstore: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := upsertLogFilter(ctx, tx, fragment); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO log_filter_intervals (log_filter_id, start_block, end_block) VALUES (?, ?, ?)`,
			fragment.ID(), iv.Start, iv.End); err != nil {
			return fmt.Errorf("syncstore: insert realtime interval: %w", err)
		}
		return tx.Commit()
	})
}

// GetLogFilterIntervals returns the compacted (unioned) synced interval set
// for fragment.
func (s *Store) GetLogFilterIntervals(ctx context.Context, fragment Fragment) ([]interval.Interval, error) {
	var out []interval.Interval
	err := withRetry(ctx, s.retryCfg, "get_log_filter_intervals", func() error {
		ivs, err := queryIntervals(ctx, s.db, "log_filter_intervals", "log_filter_id", fragment.ID())
		if err != nil {
			return err
		}
		out = interval.Union(ivs)
		return nil
	})
	return out, err
}

// GetFilterSyncedRange returns the coverage a filter can actually rely on:
// the intersection, across every one of its fragments, of that fragment's
// own unioned synced intervals. A filter matches a log if ANY fragment
// matches it, so a range only counts as synced for the filter once every
// fragment has been checked over that range.
func (s *Store) GetFilterSyncedRange(ctx context.Context, filter Filter) ([]interval.Interval, error) {
	fragments := filter.Fragments()
	if len(fragments) == 0 {
		return nil, nil
	}

	perFragment := make([][]interval.Interval, len(fragments))
	for i, fragment := range fragments {
		ivs, err := s.GetLogFilterIntervals(ctx, fragment)
		if err != nil {
			return nil, fmt.Errorf("syncstore: get filter synced range: %w", err)
		}
		perFragment[i] = ivs
	}

	return interval.IntersectionMany(perFragment), nil
}

// InsertFactoryLogFilterInterval idempotently persists the factory's own
// deployment log data and records [start,end] as synced for it.
func (s *Store) InsertFactoryLogFilterInterval(ctx context.Context, factory Factory, block *Block, txs []Transaction, logs []Log, iv interval.Interval) error {
	return withRetry(ctx, s.retryCfg, "insert_factory_log_filter_interval", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("syncstore: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := insertChainData(ctx, tx, block, txs, logs); err != nil {
			return err
		}
		if err := upsertFactory(ctx, tx, factory); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO factory_log_filter_intervals (factory_id, start_block, end_block) VALUES (?, ?, ?)`,
			factory.ID(), iv.Start, iv.End); err != nil {
			return fmt.Errorf("syncstore: insert factory log filter interval: %w", err)
		}
		return tx.Commit()
	})
}

// GetFactoryLogFilterIntervals returns the compacted synced interval set for
// a factory's own deployment-log sync progress.
func (s *Store) GetFactoryLogFilterIntervals(ctx context.Context, factory Factory) ([]interval.Interval, error) {
	var out []interval.Interval
	err := withRetry(ctx, s.retryCfg, "get_factory_log_filter_intervals", func() error {
		ivs, err := queryIntervals(ctx, s.db, "factory_log_filter_intervals", "factory_id", factory.ID())
		if err != nil {
			return err
		}
		out = interval.Union(ivs)
		return nil
	})
	return out, err
}

// InsertFactoryChildAddressLogs idempotently persists the factory's own
// deployment logs (same logs table every other log lives in) and, for each
// log matching factory's event selector, extracts and caches the child
// address it announces into factory_child_addresses so
// GetFactoryChildAddresses can page over a flat, already-extracted table
// instead of re-deriving on every read.
func (s *Store) InsertFactoryChildAddressLogs(ctx context.Context, factory Factory, block *Block, txs []Transaction, logs []Log) error {
	return withRetry(ctx, s.retryCfg, "insert_factory_child_address_logs", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("syncstore: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := insertChainData(ctx, tx, block, txs, logs); err != nil {
			return err
		}
		if err := upsertFactory(ctx, tx, factory); err != nil {
			return err
		}

		for _, l := range logs {
			if l.Address != factory.Address || l.Topic0 == nil || *l.Topic0 != factory.EventSelector {
				continue
			}
			addr, err := factory.ExtractChildAddress(l.topics(), l.Data)
			if err != nil {
				return fmt.Errorf("syncstore: extract child address for factory %s: %w", factory.ID(), err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO factory_child_addresses (chain_id, factory_id, address, block_number) VALUES (?, ?, ?, ?)
				ON CONFLICT (chain_id, factory_id, address) DO NOTHING`,
				factory.ChainID, factory.ID(), addr.Hex(), l.BlockNumber); err != nil {
				return fmt.Errorf("syncstore: cache child address: %w", err)
			}
		}

		return tx.Commit()
	})
}

// ChildAddressPage is one page of a lazily-paginated child address scan.
type ChildAddressPage struct {
	Addresses []common.Address
	HasMore   bool
}

// GetFactoryChildAddresses returns children cached for factory with
// block_number in (afterBlock, upToBlock]. Callers page through by
// repeatedly advancing afterBlock to the last returned address's block
// number until HasMore is false.
func (s *Store) GetFactoryChildAddresses(ctx context.Context, factory Factory, afterBlock, upToBlock uint64, pageSize int) (ChildAddressPage, uint64, error) {
	var page ChildAddressPage
	var lastBlock uint64

	err := withRetry(ctx, s.retryCfg, "get_factory_child_addresses", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT address, block_number FROM factory_child_addresses
			WHERE chain_id = ? AND factory_id = ? AND block_number > ? AND block_number <= ?
			ORDER BY block_number ASC, address ASC
			LIMIT ?`,
			factory.ChainID, factory.ID(), afterBlock, upToBlock, pageSize+1)
		if err != nil {
			return fmt.Errorf("syncstore: query factory child addresses: %w", err)
		}
		defer rows.Close()

		var addrs []common.Address
		count := 0
		for rows.Next() {
			var addrHex string
			var blockNumber uint64
			if err := rows.Scan(&addrHex, &blockNumber); err != nil {
				return fmt.Errorf("syncstore: scan factory child address: %w", err)
			}
			count++
			if count > pageSize {
				page.HasMore = true
				break
			}
			lastBlock = blockNumber
			addrs = append(addrs, common.HexToAddress(addrHex))
		}
		if err := rows.Err(); err != nil {
			return err
		}
		page.Addresses = addrs
		return nil
	})

	return page, lastBlock, err
}

// InsertRealtimeBlock idempotently upserts a realtime block, its
// transactions, and its logs without touching interval bookkeeping.
func (s *Store) InsertRealtimeBlock(ctx context.Context, block *Block, txs []Transaction, logs []Log) error {
	return withRetry(ctx, s.retryCfg, "insert_realtime_block", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("syncstore: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := insertChainData(ctx, tx, block, txs, logs); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// DeleteRealtimeData removes every block/transaction/log/rpc-cache row with
// block number greater than fromBlock, and truncates every interval row
// (log filter, factory, or factory child address) to end at fromBlock,
// dropping those that start after it entirely. Used both for reorg rollback
// and for clamping before a resync.
func (s *Store) DeleteRealtimeData(ctx context.Context, chainID uint64, fromBlock uint64) error {
	return withRetry(ctx, s.retryCfg, "delete_realtime_data", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("syncstore: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for _, table := range []string{"logs", "transactions", "blocks", "rpc_request_results"} {
			column := "block_number"
			if table == "blocks" {
				column = "number"
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chain_id = ? AND %s > ?`, table, column), chainID, fromBlock); err != nil {
				return fmt.Errorf("syncstore: delete realtime %s: %w", table, err)
			}
		}

		if err := truncateIntervalTable(ctx, tx, "log_filter_intervals", "log_filter_id", "log_filters", chainID, fromBlock); err != nil {
			return err
		}
		if err := truncateIntervalTable(ctx, tx, "factory_log_filter_intervals", "factory_id", "factories", chainID, fromBlock); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM factory_child_addresses WHERE chain_id = ? AND block_number > ?`,
			chainID, fromBlock); err != nil {
			return fmt.Errorf("syncstore: delete realtime factory child addresses: %w", err)
		}

		return tx.Commit()
	})
}

func truncateIntervalTable(ctx context.Context, tx *sql.Tx, intervalTable, fkColumn, parentTable string, chainID, fromBlock uint64) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT iv.id, iv.start_block, iv.end_block FROM %s iv
		JOIN %s p ON p.id = iv.%s
		WHERE p.chain_id = ? AND iv.end_block > ?`, intervalTable, parentTable, fkColumn), chainID, fromBlock)
	if err != nil {
		return fmt.Errorf("syncstore: scan %s for truncate: %w", intervalTable, err)
	}

	type row struct {
		id         int64
		start, end uint64
	}
	var toUpdate []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.start, &r.end); err != nil {
			rows.Close() //nolint:errcheck
			return fmt.Errorf("syncstore: scan %s row: %w", intervalTable, err)
		}
		toUpdate = append(toUpdate, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close() //nolint:errcheck

	for _, r := range toUpdate {
		truncated := interval.Truncate([]interval.Interval{{Start: r.start, End: r.end}}, fromBlock)
		if len(truncated) == 0 {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, intervalTable), r.id); err != nil {
				return fmt.Errorf("syncstore: delete truncated %s row: %w", intervalTable, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET end_block = ? WHERE id = ?`, intervalTable), truncated[0].End, r.id); err != nil {
			return fmt.Errorf("syncstore: clamp %s row: %w", intervalTable, err)
		}
	}
	return nil
}

// InsertRpcRequestResult caches the result of an RPC call keyed by the
// chain, the block it pertains to, and a caller-supplied canonical request
// string (method + args). Re-inserting the same key is a no-op.
func (s *Store) InsertRpcRequestResult(ctx context.Context, chainID, blockNumber uint64, request, result string) error {
	return withRetry(ctx, s.retryCfg, "insert_rpc_request_result", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rpc_request_results (chain_id, block_number, request, result) VALUES (?, ?, ?, ?)
			ON CONFLICT (chain_id, block_number, request) DO NOTHING`, chainID, blockNumber, request, result)
		if err != nil {
			return fmt.Errorf("syncstore: insert rpc request result: %w", err)
		}
		return nil
	})
}

// GetRpcRequestResult looks up a cached RPC result, returning ok=false on a
// cache miss.
func (s *Store) GetRpcRequestResult(ctx context.Context, chainID, blockNumber uint64, request string) (result string, ok bool, err error) {
	err = withRetry(ctx, s.retryCfg, "get_rpc_request_result", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT result FROM rpc_request_results WHERE chain_id = ? AND block_number = ? AND request = ?`,
			chainID, blockNumber, request)
		scanErr := row.Scan(&result)
		if scanErr == sql.ErrNoRows {
			ok = false
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("syncstore: get rpc request result: %w", scanErr)
		}
		ok = true
		return nil
	})
	return result, ok, err
}

func upsertLogFilter(ctx context.Context, tx *sql.Tx, fragment Fragment) error {
	var addr, t0, t1, t2, t3 sql.NullString
	if fragment.Address != nil {
		addr = sql.NullString{String: fragment.Address.Hex(), Valid: true}
	}
	if fragment.Topics[0] != nil {
		t0 = sql.NullString{String: fragment.Topics[0].Hex(), Valid: true}
	}
	if fragment.Topics[1] != nil {
		t1 = sql.NullString{String: fragment.Topics[1].Hex(), Valid: true}
	}
	if fragment.Topics[2] != nil {
		t2 = sql.NullString{String: fragment.Topics[2].Hex(), Valid: true}
	}
	if fragment.Topics[3] != nil {
		t3 = sql.NullString{String: fragment.Topics[3].Hex(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO log_filters (id, chain_id, address, topic0, topic1, topic2, topic3) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`, fragment.ID(), fragment.ChainID, addr, t0, t1, t2, t3)
	if err != nil {
		return fmt.Errorf("syncstore: upsert log filter: %w", err)
	}
	return nil
}

func upsertFactory(ctx context.Context, tx *sql.Tx, factory Factory) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO factories (id, chain_id, address, event_selector, child_address_location) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		factory.ID(), factory.ChainID, factory.Address.Hex(), factory.EventSelector.Hex(), string(factory.ChildAddressLocation))
	if err != nil {
		return fmt.Errorf("syncstore: upsert factory: %w", err)
	}
	return nil
}

func queryIntervals(ctx context.Context, db *sql.DB, table, fkColumn, fkValue string) ([]interval.Interval, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT start_block, end_block FROM %s WHERE %s = ?`, table, fkColumn), fkValue)
	if err != nil {
		return nil, fmt.Errorf("syncstore: query %s: %w", table, err)
	}
	defer rows.Close()

	var out []interval.Interval
	for rows.Next() {
		var iv interval.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("syncstore: scan %s: %w", table, err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// insertChainData idempotently persists a block and its transactions/logs.
// A re-insert of a row that already exists fails its unique constraint and
// is ignored, so re-processing an already-synced range is a no-op, not an
// error.
func insertChainData(ctx context.Context, tx *sql.Tx, block *Block, txs []Transaction, logs []Log) error {
	if block != nil {
		if err := meddler.Insert(tx, "blocks", block); err != nil && !isUniqueConstraintErr(err) {
			return fmt.Errorf("syncstore: insert block: %w", err)
		}
	}
	for i := range txs {
		if err := meddler.Insert(tx, "transactions", &txs[i]); err != nil && !isUniqueConstraintErr(err) {
			return fmt.Errorf("syncstore: insert transaction: %w", err)
		}
	}
	for i := range logs {
		if err := meddler.Insert(tx, "logs", &logs[i]); err != nil && !isUniqueConstraintErr(err) {
			return fmt.Errorf("syncstore: insert log: %w", err)
		}
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
