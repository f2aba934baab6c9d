package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

// ErrConfiguration marks failures caused by missing strategy or provider data
// rather than by the chain.
var ErrConfiguration = errors.New("execution configuration error")

// Step names a stage of a dispatch.
type Step string

const (
	StepAuthorize Step = "authorize"
	StepSubmit    Step = "submit"
)

// StepError reports which step failed and the provider's own error text.
type StepError struct {
	Step     Step
	Provider string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed via %s: %v", e.Step, e.Provider, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Payload is one transaction to submit on the source network.
type Payload struct {
	To    string
	Data  []byte
	Value *big.Int
}

// Broadcaster signs and submits payloads.
type Broadcaster interface {
	// Submit returns a transaction reference once the network accepted it.
	Submit(ctx context.Context, network route.Network, p Payload) (string, error)
	// Await blocks until ref is confirmed or fails.
	Await(ctx context.Context, network route.Network, ref string) error
	// Address is the signing account, empty when unknown.
	Address() string
}

// Receipt describes a dispatched transfer. A receipt returned alongside an
// error carries whatever progress was made before the failure.
type Receipt struct {
	Provider         string                `json:"provider"`
	Method           route.ExecutionMethod `json:"method"`
	Source           route.Network         `json:"source"`
	Destination      route.Network         `json:"destination"`
	Asset            string                `json:"asset"`
	Amount           decimal.Decimal       `json:"amount"`
	ToAddress        string                `json:"to_address"`
	FeeUSD           decimal.Decimal       `json:"fee_usd"`
	AuthorizationRef string                `json:"authorization_ref,omitempty"`
	TransferRef      string                `json:"transfer_ref,omitempty"`
	SubmittedAt      time.Time             `json:"submitted_at"`
}

// Dispatcher executes confirmed transfers through the strategy registered
// for the quote's execution method.
type Dispatcher struct {
	strategies  map[route.ExecutionMethod]Strategy
	tokens      route.TokenBook
	broadcaster Broadcaster
	logger      zerolog.Logger
	now         func() time.Time
}

// New fails unless every execution method has a strategy.
func New(strategies map[route.ExecutionMethod]Strategy, tokens route.TokenBook, b Broadcaster, logger zerolog.Logger) (*Dispatcher, error) {
	if b == nil {
		return nil, errors.New("dispatcher requires a broadcaster")
	}
	for _, m := range route.ExecutionMethods() {
		if strategies[m] == nil {
			return nil, fmt.Errorf("%w: no strategy for %s", ErrConfiguration, m)
		}
	}
	return &Dispatcher{
		strategies:  strategies,
		tokens:      tokens,
		broadcaster: b,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewDefault wires the built-in strategies.
func NewDefault(tokens route.TokenBook, b Broadcaster, logger zerolog.Logger) (*Dispatcher, error) {
	return New(DefaultStrategies(), tokens, b, logger)
}

// Execute authorizes the provider endpoint when required, waits for that to
// confirm, then submits the transfer. It never retries.
func (d *Dispatcher) Execute(ctx context.Context, req route.TransferRequest, q route.Quote) (Receipt, error) {
	r := req.Route
	receipt := Receipt{
		Provider:    q.ProviderID,
		Method:      q.Method,
		Source:      r.Source,
		Destination: r.Destination,
		Asset:       r.Asset,
		Amount:      r.Amount,
		ToAddress:   req.ToAddress,
		FeeUSD:      q.FeeUSD,
	}

	if !q.ExecutionReady {
		return receipt, fmt.Errorf("%w: quote from %s is not executable", ErrConfiguration, q.ProviderID)
	}
	strategy, ok := d.strategies[q.Method]
	if !ok {
		return receipt, fmt.Errorf("%w: %w %q", ErrConfiguration, route.ErrUnknownMethod, q.Method)
	}
	token, ok := d.tokens.Lookup(r.Source, r.Asset)
	if !ok {
		return receipt, fmt.Errorf("%w: %s has no deployment on %s", ErrConfiguration, r.Asset, r.Source)
	}
	destToken, _ := d.tokens.Lookup(r.Destination, r.Asset)

	plan, err := strategy.Plan(Transfer{
		Request:     req,
		Quote:       q,
		Token:       token,
		OutputToken: destToken,
		Signer:      d.broadcaster.Address(),
		Now:         d.now(),
	})
	if err != nil {
		return receipt, fmt.Errorf("%w: %s: %w", ErrConfiguration, q.Method, err)
	}

	logger := d.logger.With().
		Str("provider", q.ProviderID).
		Str("method", string(q.Method)).
		Str("route", r.String()).
		Logger()

	if plan.Spender != "" && !token.Native() {
		approval, err := approvalPayload(token, plan.Spender, token.ToAtoms(r.Amount).BigInt())
		if err != nil {
			return receipt, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		ref, err := d.broadcaster.Submit(ctx, r.Source, approval)
		if err != nil {
			return receipt, &StepError{Step: StepAuthorize, Provider: q.ProviderID, Err: err}
		}
		receipt.AuthorizationRef = ref
		logger.Info().Str("tx", ref).Msg("spend authorization submitted")

		if err := d.broadcaster.Await(ctx, r.Source, ref); err != nil {
			return receipt, &StepError{Step: StepAuthorize, Provider: q.ProviderID, Err: err}
		}
	}

	ref, err := d.broadcaster.Submit(ctx, r.Source, plan.Call)
	if err != nil {
		return receipt, &StepError{Step: StepSubmit, Provider: q.ProviderID, Err: err}
	}
	receipt.TransferRef = ref
	receipt.SubmittedAt = d.now()
	logger.Info().Str("tx", ref).Msg("transfer submitted")
	return receipt, nil
}

func approvalPayload(token route.Token, spender string, atoms *big.Int) (Payload, error) {
	if !common.IsHexAddress(spender) {
		return Payload{}, fmt.Errorf("invalid spender %q", spender)
	}
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), atoms)
	if err != nil {
		return Payload{}, err
	}
	return Payload{To: token.Address, Data: data, Value: new(big.Int)}, nil
}
