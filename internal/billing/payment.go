package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// Errors
var (
	ErrPaymentDeclined     = errors.New("billing: payment declined")
	ErrProviderUnavailable = errors.New("billing: payment provider unavailable")
)

// Charge is a request to collect one subscription payment.
type Charge struct {
	TenantID      string
	Amount        int64 // whole NGN
	Currency      string
	Description   string
	PaymentMethod string
	// IdempotencyKey makes retries of the same checkout safe.
	IdempotencyKey string
}

// PaymentResult is a successful collection.
type PaymentResult struct {
	Reference string
	Provider  string
}

// PaymentProvider collects payments for paid plans.
type PaymentProvider interface {
	Name() string
	Charge(ctx context.Context, c Charge) (*PaymentResult, error)
}

// SimulatedProvider accepts every charge. It stands in for a real gateway in
// development and demos.
type SimulatedProvider struct {
	// Delay mimics gateway latency.
	Delay time.Duration
	// Decline, when set, makes every charge fail with ErrPaymentDeclined.
	Decline bool
	refs    func() string
}

// NewSimulatedProvider creates a provider that always confirms.
func NewSimulatedProvider(refs func() string) *SimulatedProvider {
	return &SimulatedProvider{refs: refs}
}

func (s *SimulatedProvider) Name() string { return "simulated" }

func (s *SimulatedProvider) Charge(ctx context.Context, c Charge) (*PaymentResult, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Decline {
		return nil, ErrPaymentDeclined
	}
	ref := "sim_" + c.IdempotencyKey
	if s.refs != nil {
		ref = s.refs()
	}
	return &PaymentResult{Reference: ref, Provider: s.Name()}, nil
}

// StripeProvider charges through Stripe PaymentIntents, confirming
// immediately with the supplied payment method.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a provider using the given secret key.
func NewStripeProvider(secretKey string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api}
}

func (s *StripeProvider) Name() string { return "stripe" }

func (s *StripeProvider) Charge(ctx context.Context, c Charge) (*PaymentResult, error) {
	if c.PaymentMethod == "" {
		return nil, fmt.Errorf("%w: payment method required", ErrPaymentDeclined)
	}
	currency := c.Currency
	if currency == "" {
		currency = Currency
	}
	params := &stripe.PaymentIntentParams{
		// Stripe amounts are in the minor unit (kobo).
		Amount:        stripe.Int64(c.Amount * 100),
		Currency:      stripe.String(strings.ToLower(currency)),
		Description:   stripe.String(c.Description),
		PaymentMethod: stripe.String(c.PaymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.AddMetadata("tenant_id", c.TenantID)
	if c.IdempotencyKey != "" {
		params.SetIdempotencyKey(c.IdempotencyKey)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Type == stripe.ErrorTypeCard {
			return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, serr.Msg)
		}
		return nil, fmt.Errorf("billing: stripe: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: payment intent %s is %s", ErrPaymentDeclined, pi.ID, pi.Status)
	}
	return &PaymentResult{Reference: pi.ID, Provider: s.Name()}, nil
}

// BreakerProvider guards a provider with a circuit breaker. Declines are
// business outcomes and do not count as failures.
type BreakerProvider struct {
	next PaymentProvider
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps next. The breaker trips after 5 consecutive
// gateway failures and probes again after 30 seconds.
func NewBreakerProvider(next PaymentProvider, logger *slog.Logger) *BreakerProvider {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "payments-" + next.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPaymentDeclined) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerProvider{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerProvider) Name() string { return b.next.Name() }

// State reports the breaker state, for health checks.
func (b *BreakerProvider) State() gobreaker.State { return b.cb.State() }

func (b *BreakerProvider) Charge(ctx context.Context, c Charge) (*PaymentResult, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Charge(ctx, c)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return res.(*PaymentResult), nil
}

var (
	_ PaymentProvider = (*SimulatedProvider)(nil)
	_ PaymentProvider = (*StripeProvider)(nil)
	_ PaymentProvider = (*BreakerProvider)(nil)
)
