package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
)

// Denial is returned when the actor has no generations left. It matches
// allowance.ErrQuotaExhausted or allowance.ErrGuestQuotaExhausted.
type Denial struct {
	Result entitlement.Result
}

func (d *Denial) Error() string {
	return "generation: " + d.Message()
}

// Message is the text shown to the actor. Guests and signed-in identities
// get different guidance.
func (d *Denial) Message() string {
	if d.Result.Guest {
		return "You have used all your free generations. Please sign in to continue."
	}
	return "You have no generations left this month. Please upgrade your plan."
}

// Unwrap exposes the matching allowance sentinel.
func (d *Denial) Unwrap() error {
	if d.Result.Guest {
		return allowance.ErrGuestQuotaExhausted
	}
	return allowance.ErrQuotaExhausted
}

// Output is a finished generation and the consumption that paid for it.
type Output struct {
	Image  Image
	Result entitlement.Result
}

// Studio ties a Generator to an Engine's allowance.
type Studio struct {
	engine    *allowance.Engine
	generator Generator
	logger    *slog.Logger
}

// NewStudio returns a Studio. A nil logger uses slog.Default.
func NewStudio(engine *allowance.Engine, generator Generator, logger *slog.Logger) *Studio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Studio{engine: engine, generator: generator, logger: logger}
}

// Generate validates img, reserves one generation for identityID (or from
// the guest allowance when identityID is empty), runs the generator and
// refunds the reservation if it fails.
func (s *Studio) Generate(ctx context.Context, identityID string, img Image) (Output, error) {
	if err := img.Validate(); err != nil {
		return Output{}, err
	}

	var (
		res entitlement.Result
		err error
	)
	if identityID == "" {
		res, err = s.engine.TryConsumeAnonymous(ctx)
	} else {
		res, err = s.engine.TryConsume(ctx, identityID)
	}
	if err != nil {
		return Output{}, err
	}
	if !res.Granted {
		return Output{}, &Denial{Result: res}
	}

	out, err := s.generator.Generate(ctx, img)
	if err != nil {
		if rerr := s.engine.Refund(ctx, res); rerr != nil {
			s.logger.Error("generation refund failed",
				"identity_id", identityID,
				"receipt", res.Receipt.String(),
				"error", rerr,
			)
			return Output{}, errors.Join(fmt.Errorf("%w: %w", ErrGenerationFailed, err), rerr)
		}
		s.logger.Warn("generation failed, reservation refunded",
			"identity_id", identityID,
			"receipt", res.Receipt.String(),
			"error", err,
		)
		return Output{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	return Output{Image: out, Result: res}, nil
}
