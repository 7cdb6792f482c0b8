package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evmindex/evmindex/internal/codegen"
	"github.com/evmindex/evmindex/internal/scheduler"
	"github.com/evmindex/evmindex/internal/syncstore"
	itypes "github.com/evmindex/evmindex/internal/types"
	"github.com/evmindex/evmindex/pkg/config"
	"github.com/evmindex/evmindex/pkg/decoding"
	"github.com/evmindex/evmindex/pkg/indexing"
)

// eventTopic0 returns the keccak256 topic0 hash for an event signature such
// as "Transfer(address,address,uint256)", tolerating the named-parameter
// form codegen.ParseEventSignature also accepts.
func eventTopic0(sig string) (string, common.Hash, error) {
	parsed, err := codegen.ParseEventSignature(sig)
	if err != nil {
		return "", common.Hash{}, fmt.Errorf("event signature %q: %w", sig, err)
	}
	return parsed.Name, crypto.Keccak256Hash([]byte(parsed.CanonicalSignature())), nil
}

func parseAddresses(addrs []string) []common.Address {
	out := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

// chainSources unions every source's filters/factories that read from one
// chain — the raw log capture Collector performs is per-chain, independent
// of which registered indexing function ultimately consumes a given log.
type chainSources struct {
	filters   []syncstore.Filter
	factories []syncstore.FactorySource
}

func buildChainSources(cfg *config.Config) (map[uint64]*chainSources, error) {
	out := make(map[uint64]*chainSources, len(cfg.Chains))
	for _, c := range cfg.Chains {
		out[c.ChainID] = &chainSources{}
	}

	for _, src := range cfg.Sources {
		topics := make([]common.Hash, 0, len(src.Events))
		for _, ev := range src.Events {
			_, topic0, err := eventTopic0(ev)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", src.Name, err)
			}
			topics = append(topics, topic0)
		}

		cs, ok := out[src.ChainID]
		if !ok {
			return nil, fmt.Errorf("source %s: chain %d not configured", src.Name, src.ChainID)
		}

		if src.Factory != nil {
			_, deploySelector, err := eventTopic0(src.Factory.Event)
			if err != nil {
				return nil, fmt.Errorf("source %s factory: %w", src.Name, err)
			}

			factory := syncstore.Factory{
				ChainID:              src.ChainID,
				Address:              common.HexToAddress(src.Factory.Address),
				EventSelector:        deploySelector,
				ChildAddressLocation: syncstore.ChildAddressLocation(src.Factory.ChildAddressLocation),
			}

			fs := syncstore.FactorySource{Factory: factory}
			fs.Topics[0] = topics
			cs.factories = append(cs.factories, fs)
			continue
		}

		cs.filters = append(cs.filters, syncstore.Filter{
			ChainID:   src.ChainID,
			Addresses: parseAddresses(src.Address),
			Topics:    [4][]common.Hash{topics, nil, nil, nil},
		})
	}

	return out, nil
}

// buildFunctionSpecs cross-references every registered pkg/indexing
// function with the sources configured for its contract, building the
// per-function filter/factory/decoder set internal/scheduler needs to load
// and dispatch its tasks.
func buildFunctionSpecs(cfg *config.Config) ([]scheduler.FunctionSpec, error) {
	var specs []scheduler.FunctionSpec

	for _, reg := range indexing.All() {
		if reg.Key.Event == "setup" {
			specs = append(specs, scheduler.FunctionSpec{
				Key:         reg.Key,
				Access:      reg.Access,
				Handler:     reg.Handler,
				StartBlocks: startBlocksFor(cfg, reg.Key.Contract),
			})
			continue
		}

		decoder, ok := decoding.Get(reg.Key.Contract)
		if !ok {
			return nil, fmt.Errorf("no decoder registered for contract %q", reg.Key.Contract)
		}

		var filters []syncstore.Filter
		var factories []syncstore.FactorySource

		for _, src := range cfg.Sources {
			if src.Name != reg.Key.Contract || !sourceHasEvent(src, reg.Key.Event) {
				continue
			}

			_, topic0, err := eventTopic0(eventSigFor(src, reg.Key.Event))
			if err != nil {
				return nil, err
			}

			if src.Factory != nil {
				_, deploySelector, err := eventTopic0(src.Factory.Event)
				if err != nil {
					return nil, fmt.Errorf("source %s factory: %w", src.Name, err)
				}

				fs := syncstore.FactorySource{Factory: syncstore.Factory{
					ChainID:              src.ChainID,
					Address:              common.HexToAddress(src.Factory.Address),
					EventSelector:        deploySelector,
					ChildAddressLocation: syncstore.ChildAddressLocation(src.Factory.ChildAddressLocation),
				}}
				fs.Topics[0] = []common.Hash{topic0}
				factories = append(factories, fs)
				continue
			}

			filters = append(filters, syncstore.Filter{
				ChainID:   src.ChainID,
				Addresses: parseAddresses(src.Address),
				Topics:    [4][]common.Hash{{topic0}, nil, nil, nil},
			})
		}

		specs = append(specs, scheduler.FunctionSpec{
			Key:       reg.Key,
			Access:    reg.Access,
			Handler:   reg.Handler,
			Filters:   filters,
			Factories: factories,
			Decoder:   decoder,
		})
	}

	return specs, nil
}

func sourceHasEvent(src config.SourceConfig, event string) bool {
	return eventSigFor(src, event) != ""
}

func eventSigFor(src config.SourceConfig, event string) string {
	for _, ev := range src.Events {
		name, _, err := eventTopic0(ev)
		if err == nil && name == event {
			return ev
		}
	}
	return ""
}

// startBlocksFor maps every chain with at least one source for contract to
// that chain's configured start block, for a setup function's per-chain
// enqueue.
func startBlocksFor(cfg *config.Config, contract string) map[uint64]uint64 {
	chainStart := make(map[uint64]uint64, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chainStart[c.ChainID] = c.StartBlock
	}

	out := make(map[uint64]uint64)
	for _, src := range cfg.Sources {
		if src.Name == contract {
			if sb, ok := chainStart[src.ChainID]; ok {
				out[src.ChainID] = sb
			}
		}
	}
	return out
}

func parseFinality(f string) itypes.BlockFinality {
	switch f {
	case "safe":
		return itypes.FinalitySafe
	case "latest":
		return itypes.FinalityLatest
	default:
		return itypes.FinalityFinalized
	}
}
