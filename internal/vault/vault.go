package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PerpVault/internal/auth"
	"PerpVault/internal/event"
	"PerpVault/internal/ledger"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/observability"
	"PerpVault/internal/oracle"
	"PerpVault/internal/pricing"
	"PerpVault/internal/registry"
	"PerpVault/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Custody holds the vault's assets. The vault measures deposits as balance
// deltas and pays out through Transfer.
type Custody interface {
	BalanceOf(asset registry.Asset, holder auth.Identity) fpmath.Uint
	Transfer(ctx context.Context, asset registry.Asset, from, to auth.Identity, amount fpmath.Uint) error
}

// DebtToken is the stable unit minted against pool deposits. Its balances
// live in the same custody as every other asset.
type DebtToken interface {
	DebtAsset() registry.Asset
	TotalSupply() fpmath.Uint
	Mint(ctx context.Context, minter, to auth.Identity, amount fpmath.Uint) error
	Burn(ctx context.Context, minter, from auth.Identity, amount fpmath.Uint) error
}

// DefaultDebtTokenDecimals applies when Config leaves DebtTokenDecimals
// unset.
const DefaultDebtTokenDecimals = 8

type Config struct {
	// Self is the identity custody holds vault funds under. The gate must
	// have authorized it as RoleVault.
	Self              auth.Identity
	DebtTokenDecimals uint8
	// Now is the vault clock. Defaults to time.Now.
	Now func() time.Time
}

type Deps struct {
	Gate      *auth.Gate
	Registry  *registry.Registry
	Oracle    oracle.PriceOracle
	Custody   Custody
	DebtToken DebtToken
	Metrics   *observability.Metrics
	Logger    zerolog.Logger

	// PersistChan receives every envelope with a blocking send.
	PersistChan chan<- *event.Envelope
	// PublishChan receives envelopes best-effort; full channels drop.
	PublishChan chan<- *event.Envelope
}

// Vault is the single writer of pool and position state. Every exported
// mutation runs as one transaction under mu: it either commits fully or
// leaves ledger, positions and custody untouched.
type Vault struct {
	mu sync.RWMutex

	self       auth.Identity
	capability auth.Capability
	gate       *auth.Gate

	registry  *registry.Registry
	ledger    *ledger.Ledger
	positions *state.PositionBook
	validator *ledger.InvariantValidator

	oracle  oracle.PriceOracle
	custody Custody
	debt    DebtToken

	debtDecimals       uint8
	liquidators        map[auth.Identity]bool
	privateLiquidation bool

	hasher   *StateHasher
	sequence int64
	now      func() time.Time

	metrics     *observability.Metrics
	log         zerolog.Logger
	persistChan chan<- *event.Envelope
	publishChan chan<- *event.Envelope
}

func New(cfg Config, deps Deps) (*Vault, error) {
	if deps.Gate == nil || deps.Registry == nil || deps.Oracle == nil || deps.Custody == nil || deps.DebtToken == nil {
		return nil, errors.New("vault: gate, registry, oracle, custody and debt token are required")
	}
	capability := deps.Gate.Capability(cfg.Self)
	if capability.Role() != auth.RoleVault {
		return nil, fmt.Errorf("%w: %s is not authorized as Vault", ErrUnauthorized, cfg.Self)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DebtTokenDecimals == 0 {
		cfg.DebtTokenDecimals = DefaultDebtTokenDecimals
	}

	l := ledger.New()
	v := &Vault{
		self:         cfg.Self,
		capability:   capability,
		gate:         deps.Gate,
		registry:     deps.Registry,
		ledger:       l,
		positions:    state.NewPositionBook(),
		validator:    ledger.NewInvariantValidator(l),
		oracle:       deps.Oracle,
		custody:      deps.Custody,
		debt:         deps.DebtToken,
		debtDecimals: cfg.DebtTokenDecimals,
		liquidators:  make(map[auth.Identity]bool),
		hasher:       NewStateHasher(),
		now:          cfg.Now,
		metrics:      deps.Metrics,
		log:          deps.Logger,
		persistChan:  deps.PersistChan,
		publishChan:  deps.PublishChan,
	}

	if err := l.Init(capability, v.debt.DebtAsset()); err != nil {
		return nil, err
	}
	for _, c := range v.registry.Whitelisted() {
		if err := l.Init(capability, c.Asset); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Self is the identity the vault holds custody under.
func (v *Vault) Self() auth.Identity {
	return v.self
}

// Sequence returns the sequence of the last committed operation.
func (v *Vault) Sequence() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sequence
}

// StateHash returns the hash chain tip.
func (v *Vault) StateHash() [32]byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.hasher.PrevHash()
}

// execute runs fn as one transaction. Arithmetic overflow anywhere inside
// reverts the operation like any other failed check.
func (v *Vault) execute(ctx context.Context, op string, caller auth.Identity, fn func(t *txn) error) (env *event.Envelope, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok || !errors.Is(perr, fpmath.ErrArithmetic) {
				panic(r)
			}
			env, err = nil, fmt.Errorf("%s: %w", op, perr)
		}
		if err != nil {
			v.reject(op, caller, err)
			return
		}
		if v.metrics != nil {
			v.metrics.VaultOpsApplied.WithLabelValues(op).Inc()
			v.metrics.VaultOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := v.begin(ctx)
	if err := fn(t); err != nil {
		return nil, err
	}
	return v.commit(t, op, caller)
}

func (v *Vault) reject(op string, caller auth.Identity, err error) {
	class := ClassOf(err)
	if v.metrics != nil {
		v.metrics.VaultOpsRejected.WithLabelValues(op, class.String()).Inc()
	}
	v.log.Warn().
		Str("op", op).
		Stringer("caller", caller).
		Str("class", class.String()).
		Err(err).
		Msg("operation reverted")
}

func (v *Vault) commit(t *txn, op string, caller auth.Identity) (*event.Envelope, error) {
	if err := t.checkInvariants(); err != nil {
		return nil, err
	}
	if err := t.applyEffects(); err != nil {
		return nil, err
	}

	states := t.stagedAssets()
	if err := v.ledger.Put(v.capability, states...); err != nil {
		// Existence and capability were checked above; reaching this is a bug.
		panic(fmt.Sprintf("FATAL: ledger write after effects: %v", err))
	}
	positions := t.stagedPositions()
	for _, p := range positions {
		if err := v.positions.Put(v.capability, p); err != nil {
			panic(fmt.Sprintf("FATAL: position write after effects: %v", err))
		}
	}

	v.sequence++
	prev := v.hasher.PrevHash()
	hash := v.hasher.ComputeHash(v.sequence, t.digest(states, positions))

	env := &event.Envelope{
		Sequence:  v.sequence,
		EventID:   uuid.New(),
		Operation: op,
		Caller:    caller,
		Timestamp: time.Unix(t.now, 0).UTC(),
		Events:    t.events,
		StateHash: hash,
		PrevHash:  prev,
	}

	v.log.Debug().
		Str("op", op).
		Int64("seq", env.Sequence).
		Int("events", len(env.Events)).
		Msg("operation committed")

	v.emit(env)
	v.recordGauges(states)
	return env, nil
}

// emit hands env to persistence with a blocking send and to publishers
// with a non-blocking one.
func (v *Vault) emit(env *event.Envelope) {
	if v.persistChan != nil {
		select {
		case v.persistChan <- env:
		default:
			if v.metrics != nil {
				v.metrics.PersistBackpressure.Inc()
			}
			v.persistChan <- env
		}
	}

	if v.publishChan != nil {
		select {
		case v.publishChan <- env:
		default:
			if v.metrics != nil {
				v.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (v *Vault) recordGauges(states []ledger.AssetState) {
	if v.metrics == nil {
		return
	}
	v.metrics.VaultSequence.Set(float64(v.sequence))
	v.metrics.OpenPositions.Set(float64(v.positions.Len()))
	for _, s := range states {
		dec := v.debtDecimals
		if cfg, ok := v.registry.Asset(s.Asset); ok {
			dec = cfg.Decimals
		}
		a := string(s.Asset)
		v.metrics.PoolAmount.WithLabelValues(a).Set(s.PoolAmount.ToDecimal(dec).InexactFloat64())
		v.metrics.ReservedAmount.WithLabelValues(a).Set(s.ReservedAmount.ToDecimal(dec).InexactFloat64())
		v.metrics.FeeReserves.WithLabelValues(a).Set(s.FeeReserves.ToDecimal(dec).InexactFloat64())
		v.metrics.GuaranteedUSD.WithLabelValues(a).Set(s.GuaranteedUSD.ToDecimal(registry.USDDecimals).InexactFloat64())
		v.metrics.GlobalShortSize.WithLabelValues(a).Set(s.GlobalShortSize.ToDecimal(registry.USDDecimals).InexactFloat64())
	}
	if aum, err := pricing.AUM(v.registry.Whitelisted(), v.ledger, v.oracle, false); err == nil {
		v.metrics.AUM.Set(aum.ToDecimal(registry.USDDecimals).InexactFloat64())
	}
}
