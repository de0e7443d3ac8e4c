package main

import (
	"LockerLedger/internal/config"
	"LockerLedger/internal/ledger"
	"fmt"

	"github.com/google/uuid"
)

// referenceLedgers are the in-memory collaborators lockerd settles against.
type referenceLedgers struct {
	banks      map[string]*ledger.Bank
	registries map[string]*ledger.AssetRegistry
}

// buildLedgers seeds one bank per configured currency and one registry per
// configured registry with the genesis state, then applies what the
// persisted journal moved since. deltas and owners come from the event log.
func buildLedgers(cfg *config.Config, deltas map[string]map[uuid.UUID]int64, owners map[string]map[uint64]uuid.UUID) (*referenceLedgers, error) {
	balances, err := cfg.Genesis.ParsedBalances()
	if err != nil {
		return nil, err
	}
	assets, err := cfg.Genesis.ParsedAssets()
	if err != nil {
		return nil, err
	}

	rl := &referenceLedgers{
		banks:      make(map[string]*ledger.Bank),
		registries: make(map[string]*ledger.AssetRegistry),
	}

	for _, currency := range cfg.Currencies() {
		merged := make(map[uuid.UUID]int64, len(balances[currency]))
		for account, amount := range balances[currency] {
			merged[account] = amount
		}
		for account, delta := range deltas[currency] {
			merged[account] += delta
			if merged[account] < 0 {
				return nil, fmt.Errorf("%s account %s: journal leaves balance %d below zero", currency, account, merged[account])
			}
		}
		bank := ledger.NewBank(currency)
		bank.Restore(merged)
		rl.banks[currency] = bank
	}
	for currency := range deltas {
		if _, ok := rl.banks[currency]; !ok {
			return nil, fmt.Errorf("journal moves currency %s with no configured template", currency)
		}
	}

	for _, name := range cfg.Registries {
		merged := make(map[uint64]uuid.UUID, len(assets[name]))
		for tokenID, owner := range assets[name] {
			merged[tokenID] = owner
		}
		for tokenID, owner := range owners[name] {
			merged[tokenID] = owner
		}
		reg := ledger.NewAssetRegistry(name)
		reg.Restore(merged)
		rl.registries[name] = reg
	}
	for name := range owners {
		if _, ok := rl.registries[name]; !ok {
			return nil, fmt.Errorf("journal moves assets of unconfigured registry %s", name)
		}
	}

	return rl, nil
}
