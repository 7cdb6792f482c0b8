package syncstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evmindex/evmindex/internal/checkpoint"
)

// GetLogEvents returns decoded log events in the half-open checkpoint window
// (params.From, params.To] that match at least one of params.Filters or
// params.Factories, ordered by (blockTimestamp, chainId, blockNumber,
// logIndex) per internal/checkpoint's total order. A fragment's topic0
// doubles as its event selector: a direct filter with a concrete topic0
// already restricts matches to that event. Factory-derived sources further
// restrict matches to addresses currently cached as children of the
// factory.
func (s *Store) GetLogEvents(ctx context.Context, params GetLogEventsParams) (Page, error) {
	var page Page

	err := withRetry(ctx, s.retryCfg, "get_log_events", func() error {
		candidates, err := s.candidateEvents(ctx, params)
		if err != nil {
			return err
		}

		sort.Slice(candidates, func(i, j int) bool {
			return checkpoint.Less(candidates[i].Checkpoint(), candidates[j].Checkpoint())
		})

		var inWindow []DecodedEvent
		for _, e := range candidates {
			c := e.Checkpoint()
			if checkpoint.Compare(c, params.From, checkpoint.AsLowerBound, checkpoint.AsUpperBound) <= 0 {
				continue
			}
			if checkpoint.Compare(c, params.To, checkpoint.AsLowerBound, checkpoint.AsUpperBound) > 0 {
				continue
			}
			inWindow = append(inWindow, e)
		}

		if len(inWindow) > 0 {
			last := inWindow[len(inWindow)-1].Checkpoint()
			page.LastCheckpoint = &last
		}

		limit := params.Limit
		if limit <= 0 || limit >= len(inWindow) {
			page.Events = inWindow
			page.HasNextPage = false
		} else {
			page.Events = inWindow[:limit]
			page.HasNextPage = true
		}
		if len(page.Events) > 0 {
			last := page.Events[len(page.Events)-1].Checkpoint()
			page.LastCheckpointInPage = &last
		}
		return nil
	})

	return page, err
}

// candidateEvents loads every log in the query's chain scope that could
// possibly match, joined with its block and transaction. Filtering against
// the precise fragment predicates (and, for factories, the cached child
// address set) happens in Go, matching the application-side predicate
// evaluation internal/interval and internal/gateway already use rather than
// encoding the cross-product of fragments into SQL.
func (s *Store) candidateEvents(ctx context.Context, params GetLogEventsParams) ([]DecodedEvent, error) {
	chainIDs := map[uint64]struct{}{}
	for _, f := range params.Filters {
		chainIDs[f.ChainID] = struct{}{}
	}
	for _, f := range params.Factories {
		chainIDs[f.Factory.ChainID] = struct{}{}
	}
	if len(chainIDs) == 0 {
		return nil, nil
	}

	var events []DecodedEvent
	for chainID := range chainIDs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT l.id, l.chain_id, l.block_hash, l.log_index, l.block_number, l.block_timestamp,
			       l.tx_hash, l.address, l.topic0, l.topic1, l.topic2, l.topic3, l.data,
			       t.hash, t.block_hash, t.block_number, t."from", t."to"
			FROM logs l
			LEFT JOIN transactions t ON t.chain_id = l.chain_id AND t.hash = l.tx_hash
			WHERE l.chain_id = ?`, chainID)
		if err != nil {
			return nil, fmt.Errorf("syncstore: query candidate events: %w", err)
		}

		chainEvents, err := scanDecodedEvents(rows)
		rows.Close() //nolint:errcheck
		if err != nil {
			return nil, err
		}

		fragments := fragmentsForChain(params.Filters, chainID)
		factoryAddrs, err := s.factoryChildAddressSets(ctx, params.Factories, chainID)
		if err != nil {
			return nil, err
		}

		for _, e := range chainEvents {
			if matchesAnyFragment(e.Log, fragments) || matchesAnyFactory(e.Log, params.Factories, factoryAddrs) {
				events = append(events, e)
			}
		}
	}

	return events, nil
}

func fragmentsForChain(filters []Filter, chainID uint64) []Fragment {
	var out []Fragment
	for _, f := range filters {
		if f.ChainID != chainID {
			continue
		}
		out = append(out, f.Fragments()...)
	}
	return out
}

func matchesAnyFragment(l Log, fragments []Fragment) bool {
	topics := l.topics()
	for _, fr := range fragments {
		if fr.matches(l.Address, topics) {
			return true
		}
	}
	return false
}

// factoryChildAddressSets loads, for each factory source scoped to chainID,
// the full set of currently-known child addresses.
func (s *Store) factoryChildAddressSets(ctx context.Context, sources []FactorySource, chainID uint64) (map[string]map[common.Address]struct{}, error) {
	out := map[string]map[common.Address]struct{}{}
	for _, src := range sources {
		if src.Factory.ChainID != chainID {
			continue
		}
		id := src.Factory.ID()
		if _, ok := out[id]; ok {
			continue
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT address FROM factory_child_addresses WHERE chain_id = ? AND factory_id = ?`, chainID, id)
		if err != nil {
			return nil, fmt.Errorf("syncstore: query factory child address set: %w", err)
		}

		set := map[common.Address]struct{}{}
		for rows.Next() {
			var addrHex string
			if err := rows.Scan(&addrHex); err != nil {
				rows.Close() //nolint:errcheck
				return nil, fmt.Errorf("syncstore: scan factory child address: %w", err)
			}
			set[common.HexToAddress(addrHex)] = struct{}{}
		}
		rerr := rows.Err()
		rows.Close() //nolint:errcheck
		if rerr != nil {
			return nil, rerr
		}
		out[id] = set
	}
	return out, nil
}

func matchesAnyFactory(l Log, sources []FactorySource, addrSets map[string]map[common.Address]struct{}) bool {
	topics := l.topics()
	for _, src := range sources {
		set, ok := addrSets[src.Factory.ID()]
		if !ok {
			continue
		}
		if _, ok := set[l.Address]; !ok {
			continue
		}
		topicFilter := Filter{ChainID: src.Factory.ChainID, Topics: src.Topics}
		for _, frag := range topicFilter.Fragments() {
			if frag.matches(l.Address, topics) {
				return true
			}
		}
	}
	return false
}

func scanDecodedEvents(rows *sql.Rows) ([]DecodedEvent, error) {
	var out []DecodedEvent
	for rows.Next() {
		var l Log
		var txHash, txBlockHash sql.NullString
		var txBlockNumber sql.NullInt64
		var txFrom, txTo sql.NullString
		var t0, t1, t2, t3 sql.NullString

		if err := rows.Scan(
			&l.ID, &l.ChainID, hashScanner(&l.BlockHash), &l.LogIndex, &l.BlockNumber, &l.BlockTimestamp,
			hashScanner(&l.TxHash), addressScanner(&l.Address), &t0, &t1, &t2, &t3, &l.Data,
			&txHash, &txBlockHash, &txBlockNumber, &txFrom, &txTo,
		); err != nil {
			return nil, fmt.Errorf("syncstore: scan decoded event: %w", err)
		}

		l.Topic0 = nullHash(t0)
		l.Topic1 = nullHash(t1)
		l.Topic2 = nullHash(t2)
		l.Topic3 = nullHash(t3)

		event := DecodedEvent{Log: l}
		if txHash.Valid {
			tx := Transaction{
				ChainID:     l.ChainID,
				Hash:        common.HexToHash(txHash.String),
				BlockHash:   common.HexToHash(txBlockHash.String),
				BlockNumber: uint64(txBlockNumber.Int64),
				From:        common.HexToAddress(txFrom.String),
			}
			if txTo.Valid {
				to := common.HexToAddress(txTo.String)
				tx.To = &to
			}
			event.Transaction = &tx
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func nullHash(ns sql.NullString) *common.Hash {
	if !ns.Valid {
		return nil
	}
	h := common.HexToHash(ns.String)
	return &h
}

func hashScanner(h *common.Hash) interface{} {
	return &hexHashScanner{h}
}

type hexHashScanner struct{ dst *common.Hash }

func (s *hexHashScanner) Scan(src interface{}) error {
	str, ok := src.(string)
	if !ok {
		if b, ok := src.([]byte); ok {
			str = string(b)
		} else {
			return fmt.Errorf("syncstore: cannot scan %T into hash", src)
		}
	}
	*s.dst = common.HexToHash(str)
	return nil
}

func addressScanner(a *common.Address) interface{} {
	return &hexAddressScanner{a}
}

type hexAddressScanner struct{ dst *common.Address }

func (s *hexAddressScanner) Scan(src interface{}) error {
	str, ok := src.(string)
	if !ok {
		if b, ok := src.([]byte); ok {
			str = string(b)
		} else {
			return fmt.Errorf("syncstore: cannot scan %T into address", src)
		}
	}
	*s.dst = common.HexToAddress(str)
	return nil
}
