package market

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/ethereum/go-ethereum/common"
)

// Config returns a copy of the protocol configuration.
func (r *Registry) Config(ctx context.Context) domain.ProtocolConfig {
	var cfg domain.ProtocolConfig
	r.exec.View(ctx, func() { cfg = r.cfg.Clone() })
	return cfg
}

// SetGlobalMinStake sets the floor applied to every market.
func (r *Registry) SetGlobalMinStake(ctx context.Context, caller common.Address, amount *big.Int) error {
	return r.updateConfig(ctx, caller, "global_min_stake", func(cfg *domain.ProtocolConfig) (string, error) {
		if err := checkAmount(amount); err != nil {
			return "", err
		}
		cfg.GlobalMinStake = new(big.Int).Set(amount)
		return amount.String(), nil
	})
}

// SetDefaultMinStake sets the minimum copied into newly created markets.
func (r *Registry) SetDefaultMinStake(ctx context.Context, caller common.Address, amount *big.Int) error {
	return r.updateConfig(ctx, caller, "default_min_stake", func(cfg *domain.ProtocolConfig) (string, error) {
		if err := checkAmount(amount); err != nil {
			return "", err
		}
		cfg.DefaultMinStake = new(big.Int).Set(amount)
		return amount.String(), nil
	})
}

// SetFeeConfig sets the fee recipient and rate.
func (r *Registry) SetFeeConfig(ctx context.Context, caller, treasury common.Address, feeBps uint64) error {
	return r.updateConfig(ctx, caller, "fee", func(cfg *domain.ProtocolConfig) (string, error) {
		if treasury == (common.Address{}) {
			return "", domain.ErrZeroAddress
		}
		if feeBps > domain.MaxFeeBps {
			return "", domain.ErrInvalidFee
		}
		cfg.Treasury = treasury
		cfg.FeeBps = feeBps
		return treasury.Hex() + ":" + strconv.FormatUint(feeBps, 10), nil
	})
}

// SetMaxStaleness sets the oldest price age accepted at resolution.
func (r *Registry) SetMaxStaleness(ctx context.Context, caller common.Address, d time.Duration) error {
	return r.updateConfig(ctx, caller, "max_staleness", func(cfg *domain.ProtocolConfig) (string, error) {
		if d <= 0 {
			return "", domain.ErrInvalidDuration
		}
		cfg.MaxStaleness = d
		return d.String(), nil
	})
}

// SetMarketMinStake overrides the minimum stake of one market.
func (r *Registry) SetMarketMinStake(ctx context.Context, caller common.Address, id uint64, amount *big.Int) error {
	return r.exec.Do(ctx, func(ctx context.Context) error {
		if caller != r.admin {
			return fmt.Errorf("market: set min stake: %w", domain.ErrUnauthorized)
		}
		if err := checkAmount(amount); err != nil {
			return fmt.Errorf("market: set min stake: %w", err)
		}
		m, ok := r.markets[id]
		if !ok {
			return fmt.Errorf("market: set min stake %d: %w", id, domain.ErrMarketNotFound)
		}
		prev := m.MinStake
		m.MinStake = new(big.Int).Set(amount)
		txn.Record(ctx, func() { m.MinStake = prev })
		r.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventConfigChanged,
			MarketID: id,
			Account:  caller,
			Amount:   new(big.Int).Set(amount),
			Detail:   map[string]string{"key": "market_min_stake", "value": amount.String()},
		})
		return nil
	})
}

func (r *Registry) updateConfig(ctx context.Context, caller common.Address, key string, apply func(*domain.ProtocolConfig) (string, error)) error {
	return r.exec.Do(ctx, func(ctx context.Context) error {
		if caller != r.admin {
			return fmt.Errorf("market: set %s: %w", key, domain.ErrUnauthorized)
		}
		next := r.cfg.Clone()
		value, err := apply(&next)
		if err != nil {
			return fmt.Errorf("market: set %s: %w", key, err)
		}
		prev := r.cfg
		r.cfg = next
		txn.Record(ctx, func() { r.cfg = prev })
		r.emitter.Emit(ctx, domain.Event{
			Type:    domain.EventConfigChanged,
			Account: caller,
			Detail:  map[string]string{"key": key, "value": value},
		})
		return nil
	})
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return domain.ErrAmountCannotBeZero
	}
	if amount.Sign() < 0 {
		return domain.ErrNegativeAmount
	}
	return nil
}
