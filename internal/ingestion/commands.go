package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/pricing"
	"PerpVault/internal/registry"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	CommandStream        = "VAULT_COMMANDS"
	CommandConsumer      = "perp-vault-commands"
	CommandSubjectPrefix = "vault.commands."
)

var (
	ErrMalformedCommand = errors.New("malformed command")
	ErrUnknownCommand   = errors.New("unknown command")
	// ErrCommandRejected wraps a revert from the vault or custody. The
	// operation is final; redelivery would revert again.
	ErrCommandRejected = errors.New("command rejected")
	// ErrCallerMismatch is a body naming a caller other than the identity
	// the command was published under.
	ErrCallerMismatch = errors.New("caller does not match subject identity")
)

// Executor is the vault's operation surface.
type Executor interface {
	IncreasePosition(ctx context.Context, caller, owner auth.Identity, collateral, index registry.Asset, sizeDelta fpmath.Uint, isLong bool) error
	DecreasePosition(ctx context.Context, caller, owner auth.Identity, collateral, index registry.Asset, collateralDelta, sizeDelta fpmath.Uint, isLong bool, receiver auth.Identity) (fpmath.Uint, error)
	LiquidatePosition(ctx context.Context, caller, owner auth.Identity, collateral, index registry.Asset, isLong bool, feeReceiver auth.Identity) (pricing.LiquidationState, error)
	BuyDebtToken(ctx context.Context, caller auth.Identity, asset registry.Asset, receiver auth.Identity) (fpmath.Uint, error)
	SellDebtToken(ctx context.Context, caller auth.Identity, asset registry.Asset, receiver auth.Identity) (fpmath.Uint, error)
	WithdrawFees(ctx context.Context, caller auth.Identity, asset registry.Asset, receiver auth.Identity) (fpmath.Uint, error)
	AssetConfig(asset registry.Asset) (registry.AssetConfig, bool)
	DebtTokenDecimals() uint8
	Self() auth.Identity
}

// Ledger moves tokens between holders. Deposits into the vault are plain
// transfers to the vault's identity.
type Ledger interface {
	DebtAsset() registry.Asset
	Transfer(ctx context.Context, asset registry.Asset, from, to auth.Identity, amount fpmath.Uint) error
}

// Faucet credits tokens from nothing. Only wired for local runs.
type Faucet interface {
	Credit(asset registry.Asset, holder auth.Identity, amount fpmath.Uint)
}

// Command is the JSON body of a vault.commands.<identity>.<Operation>
// message. USD deltas and token amounts are human-readable decimals.
//
// The caller is the identity token of the subject. NATS subject
// permissions restrict each client to publishing under its own identity,
// so the body's caller is optional and must match when given.
type Command struct {
	Caller             auth.Identity    `json:"caller"`
	Owner              auth.Identity    `json:"owner"`
	Receiver           auth.Identity    `json:"receiver"`
	Collateral         registry.Asset   `json:"collateral"`
	Index              registry.Asset   `json:"index"`
	Asset              registry.Asset   `json:"asset"`
	IsLong             bool             `json:"is_long"`
	SizeDeltaUSD       *decimal.Decimal `json:"size_delta_usd,omitempty"`
	CollateralDeltaUSD *decimal.Decimal `json:"collateral_delta_usd,omitempty"`
	Amount             *decimal.Decimal `json:"amount,omitempty"`
}

// CommandSubscriber applies operations received from NATS to the vault.
type CommandSubscriber struct {
	js     jetstream.JetStream
	vault  Executor
	ledger Ledger
	faucet Faucet
	guard  *CommandGuard
	log    zerolog.Logger

	consumer jetstream.ConsumeContext
}

// NewCommandSubscriber wires the command handlers. faucet may be nil, in
// which case Credit commands are unknown.
func NewCommandSubscriber(js jetstream.JetStream, vault Executor, ledger Ledger, faucet Faucet, logger zerolog.Logger) *CommandSubscriber {
	return &CommandSubscriber{
		js:     js,
		vault:  vault,
		ledger: ledger,
		faucet: faucet,
		log:    logger,
	}
}

// WithGuard drops redelivered and resubmitted commands before they reach
// the vault.
func (s *CommandSubscriber) WithGuard(g *CommandGuard) *CommandSubscriber {
	s.guard = g
	return s
}

// Subscribe attaches a durable consumer delivering one command at a time,
// in stream order.
func (s *CommandSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       CommandConsumer,
		FilterSubject: CommandSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CommandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		d := delivery(msg)
		if s.guard != nil {
			if dup, why := s.guard.Seen(d); dup {
				s.log.Info().Uint64("stream_seq", d.StreamSeq).Str("msg_id", d.MsgID).Str("reason", why).Msg("duplicate command dropped")
				_ = msg.Ack()
				return
			}
		}

		_, err := s.Handle(ctx, msg.Subject(), msg.Data())
		switch {
		case err == nil:
			_ = msg.Ack()
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			_ = msg.Nak()
			return
		default:
			_ = msg.Term()
		}
		if s.guard != nil {
			s.guard.Settle(d)
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CommandConsumer, err)
	}
	s.consumer = cc
	s.log.Info().Str("subject", CommandSubjectPrefix+">").Msg("subscribed to vault commands")
	return nil
}

// CommandSubject is the subject caller publishes op on.
func CommandSubject(caller auth.Identity, op string) string {
	return CommandSubjectPrefix + caller.String() + "." + op
}

// PublishPermission is the NATS publish allow-list entry for a client
// authenticated as caller.
func PublishPermission(caller auth.Identity) string {
	return CommandSubjectPrefix + caller.String() + ".>"
}

func delivery(msg jetstream.Msg) Delivery {
	var d Delivery
	if md, err := msg.Metadata(); err == nil {
		d.StreamSeq = md.Sequence.Stream
	}
	if h := msg.Headers(); h != nil {
		d.MsgID = h.Get(jetstream.MsgIDHeader)
	}
	return d
}

// Stop drains the consumer and waits for the in-flight command, so no
// vault operation runs after it returns.
func (s *CommandSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Drain()
		<-s.consumer.Closed()
		s.consumer = nil
		s.log.Info().Msg("command subscriber stopped")
	}
}

// Handle decodes and executes one command. The returned string describes
// the outcome (amount paid out, liquidation state) for logging.
func (s *CommandSubscriber) Handle(ctx context.Context, subject string, data []byte) (string, error) {
	caller, op, err := parseCommandSubject(subject)
	if err != nil {
		return "", err
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if !cmd.Caller.IsZero() && cmd.Caller != caller {
		s.log.Warn().Str("op", op).Str("subject_caller", caller.String()).Str("body_caller", cmd.Caller.String()).Msg("command caller mismatch")
		return "", fmt.Errorf("%w: subject %s, body %s", ErrCallerMismatch, caller, cmd.Caller)
	}
	cmd.Caller = caller

	out, err := s.dispatch(ctx, op, cmd)
	logEvt := s.log.Info()
	if err != nil {
		logEvt = s.log.Warn().Err(err)
	}
	logEvt.Str("op", op).Str("caller", cmd.Caller.String()).Str("result", out).Msg("command")
	return out, err
}

// parseCommandSubject splits vault.commands.<identity>.<Operation>.
func parseCommandSubject(subject string) (auth.Identity, string, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok {
		return auth.Identity{}, "", fmt.Errorf("%w: subject %q", ErrMalformedCommand, subject)
	}
	id, op, ok := strings.Cut(rest, ".")
	if !ok || op == "" || strings.Contains(op, ".") {
		return auth.Identity{}, "", fmt.Errorf("%w: subject %q", ErrMalformedCommand, subject)
	}
	caller, err := auth.ParseIdentity(id)
	if err != nil {
		return auth.Identity{}, "", fmt.Errorf("%w: subject caller: %v", ErrMalformedCommand, err)
	}
	return caller, op, nil
}

func (s *CommandSubscriber) dispatch(ctx context.Context, op string, c Command) (string, error) {
	owner := c.Owner
	if owner.IsZero() {
		owner = c.Caller
	}
	receiver := c.Receiver
	if receiver.IsZero() {
		receiver = c.Caller
	}

	switch op {
	case "IncreasePosition":
		size, err := usdField("size_delta_usd", c.SizeDeltaUSD)
		if err != nil {
			return "", err
		}
		return "ok", rejected(s.vault.IncreasePosition(ctx, c.Caller, owner, c.Collateral, c.Index, size, c.IsLong))

	case "DecreasePosition":
		size, err := usdField("size_delta_usd", c.SizeDeltaUSD)
		if err != nil {
			return "", err
		}
		collateral := fpmath.Zero()
		if c.CollateralDeltaUSD != nil {
			if collateral, err = usdField("collateral_delta_usd", c.CollateralDeltaUSD); err != nil {
				return "", err
			}
		}
		out, err := s.vault.DecreasePosition(ctx, c.Caller, owner, c.Collateral, c.Index, collateral, size, c.IsLong, receiver)
		return out.String(), rejected(err)

	case "LiquidatePosition":
		st, err := s.vault.LiquidatePosition(ctx, c.Caller, owner, c.Collateral, c.Index, c.IsLong, receiver)
		return st.String(), rejected(err)

	case "BuyDebtToken":
		out, err := s.vault.BuyDebtToken(ctx, c.Caller, c.Asset, receiver)
		return out.String(), rejected(err)

	case "SellDebtToken":
		out, err := s.vault.SellDebtToken(ctx, c.Caller, c.Asset, receiver)
		return out.String(), rejected(err)

	case "WithdrawFees":
		out, err := s.vault.WithdrawFees(ctx, c.Caller, c.Asset, receiver)
		return out.String(), rejected(err)

	case "Transfer":
		// Receiver defaults to the vault: a deposit.
		to := c.Receiver
		if to.IsZero() {
			to = s.vault.Self()
		}
		amount, err := s.tokenAmount(c.Asset, c.Amount)
		if err != nil {
			return "", err
		}
		return amount.String(), rejected(s.ledger.Transfer(ctx, c.Asset, c.Caller, to, amount))

	case "Credit":
		if s.faucet == nil {
			break
		}
		amount, err := s.tokenAmount(c.Asset, c.Amount)
		if err != nil {
			return "", err
		}
		s.faucet.Credit(c.Asset, receiver, amount)
		return amount.String(), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, op)
}

func rejected(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCommandRejected, err)
}

func usdField(name string, d *decimal.Decimal) (fpmath.Uint, error) {
	if d == nil {
		return fpmath.Uint{}, fmt.Errorf("%w: missing %s", ErrMalformedCommand, name)
	}
	v, err := fpmath.UintFromDecimal(*d, registry.USDDecimals)
	if err != nil {
		return fpmath.Uint{}, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, name, err)
	}
	return v, nil
}

func (s *CommandSubscriber) tokenAmount(asset registry.Asset, d *decimal.Decimal) (fpmath.Uint, error) {
	if d == nil {
		return fpmath.Uint{}, fmt.Errorf("%w: missing amount", ErrMalformedCommand)
	}
	var decimals uint8
	if asset == s.ledger.DebtAsset() {
		decimals = s.vault.DebtTokenDecimals()
	} else {
		cfg, ok := s.vault.AssetConfig(asset)
		if !ok {
			return fpmath.Uint{}, fmt.Errorf("%w: asset %q is not whitelisted", ErrMalformedCommand, asset)
		}
		decimals = cfg.Decimals
	}
	v, err := fpmath.UintFromDecimal(*d, decimals)
	if err != nil {
		return fpmath.Uint{}, fmt.Errorf("%w: amount: %v", ErrMalformedCommand, err)
	}
	return v, nil
}
