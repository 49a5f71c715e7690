package billfetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"billfetch-backend/lib/scrapers/materielnet"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/billfetch")

// ErrCaptchaResolutionFailed means the single captcha retry was spent:
// either the solver errored or the vendor demanded a second captcha after
// a solved one. The run is over, retrying would just hammer the solver.
var ErrCaptchaResolutionFailed = errors.New("captcha resolution failed")

// CaptchaSolver turns a challenge into a captcha token. It may block for
// an externally bounded duration.
type CaptchaSolver interface {
	Solve(ctx context.Context, challenge materielnet.CaptchaChallenge) (string, error)
}

// RecordSink receives the final bill set along with the identity keys
// used to dedup against previously persisted records.
type RecordSink interface {
	Save(ctx context.Context, bills []materielnet.Bill, identifiers []string) error
}

// Variant selects which listing surface of the vendor to walk.
type Variant string

const (
	VariantPeriods Variant = "periods"
	VariantPages   Variant = "pages"
)

type Options struct {
	Client materielnet.ClientOptions
	// defaults to VariantPeriods
	Variant Variant
	// builds the login protocol for a fresh session; defaults to the
	// current token+identity-cookie generation
	NewAuthenticator func(*materielnet.Client) materielnet.Authenticator
	// optional; without one a captcha challenge is surfaced to the caller
	Solver CaptchaSolver
	// optional; without one bills are only returned, not persisted
	Sink RecordSink
	// how long an authenticated session may be reused, defaults to 15m
	SessionTTL time.Duration
}

// Service drives the end-to-end fetch: reuse or establish a session, walk
// the vendor's listing surface and hand the normalized bills to the sink.
type Service struct {
	opts     Options
	sessions *expirable.LRU[string, *materielnet.Client]
}

func NewService(opts Options) Service {
	if opts.Variant == "" {
		opts.Variant = VariantPeriods
	}
	if opts.NewAuthenticator == nil {
		opts.NewAuthenticator = func(c *materielnet.Client) materielnet.Authenticator {
			return materielnet.TokenAuth{Client: c}
		}
	}
	ttl := opts.SessionTTL
	if ttl == 0 {
		ttl = time.Minute * 15
	}
	return Service{
		opts:     opts,
		sessions: expirable.NewLRU[string, *materielnet.Client](1024, nil, ttl),
	}
}

type runState int

const (
	stateInit runState = iota
	stateValidating
	stateNeedsLogin
	stateLoggingIn
	stateCaptchaPending
	stateAuthenticated
	stateWalking
	stateSaving
	stateDone
)

// Fetch runs the whole workflow for one user. Authentication always
// completes before any listing fetch starts; the captcha loop executes
// at most once.
func (s Service) Fetch(ctx context.Context, creds materielnet.Credentials) ([]materielnet.Bill, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	client, cached := s.sessions.Get(creds.Login)
	if !cached {
		fresh, err := materielnet.NewClient(ctx, s.opts.Client)
		if err != nil {
			return nil, err
		}
		client = fresh
	}
	auth := s.opts.NewAuthenticator(client)

	var (
		bills           []materielnet.Bill
		challenge       materielnet.CaptchaChallenge
		captchaAttempts int
	)

	state := stateInit
	for state != stateDone {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch state {
		case stateInit:
			state = stateValidating

		case stateValidating:
			ok, err := client.IsAuthenticated(ctx)
			if err != nil {
				// transport failure, not an expired session
				span.SetStatus(codes.Error, "session probe failed")
				return nil, err
			}
			if ok {
				slog.DebugContext(ctx, "existing session still valid", "login", creds.Login)
				state = stateAuthenticated
			} else {
				state = stateNeedsLogin
			}

		case stateNeedsLogin:
			slog.InfoContext(ctx, "no valid session, logging in", "login", creds.Login)
			state = stateLoggingIn

		case stateLoggingIn:
			err := auth.Login(ctx, creds)
			var captchaErr *materielnet.CaptchaError
			if errors.As(err, &captchaErr) {
				challenge = captchaErr.Challenge
				state = stateCaptchaPending
				continue
			}
			if err != nil {
				span.SetStatus(codes.Error, "login failed")
				return nil, err
			}
			state = stateAuthenticated

		case stateCaptchaPending:
			if s.opts.Solver == nil {
				// no solver capability: hand the challenge to the caller
				// so they can surface "user action needed"
				return nil, &materielnet.CaptchaError{Challenge: challenge}
			}
			if captchaAttempts >= 1 {
				span.SetStatus(codes.Error, "captcha loop exhausted")
				return nil, ErrCaptchaResolutionFailed
			}
			resumer, ok := auth.(materielnet.CaptchaAuthenticator)
			if !ok {
				// this protocol generation cannot resume from a captcha
				return nil, &materielnet.CaptchaError{Challenge: challenge}
			}
			captchaAttempts++

			token, err := s.opts.Solver.Solve(ctx, challenge)
			if err != nil {
				span.SetStatus(codes.Error, "captcha solver failed")
				return nil, fmt.Errorf("%w: %w", ErrCaptchaResolutionFailed, err)
			}

			err = resumer.LoginWithCaptcha(ctx, creds, token)
			var captchaErr *materielnet.CaptchaError
			if errors.As(err, &captchaErr) {
				challenge = captchaErr.Challenge
				state = stateCaptchaPending
				continue
			}
			if err != nil {
				span.SetStatus(codes.Error, "login retry failed")
				return nil, err
			}
			state = stateAuthenticated

		case stateAuthenticated:
			s.sessions.Add(creds.Login, client)
			state = stateWalking

		case stateWalking:
			var err error
			if s.opts.Variant == VariantPages {
				bills, err = client.FetchBillsByPage(ctx)
			} else {
				bills, err = client.FetchBillsByPeriod(ctx)
			}
			if err != nil {
				span.SetStatus(codes.Error, "bill walk failed")
				return nil, err
			}
			state = stateSaving

		case stateSaving:
			if s.opts.Sink != nil {
				err := s.opts.Sink.Save(ctx, bills, []string{"materiel.net"})
				if err != nil {
					span.SetStatus(codes.Error, "record sink failed")
					return nil, err
				}
			}
			state = stateDone
		}
	}

	slog.InfoContext(ctx, "bills retrieved", "count", len(bills))
	return bills, nil
}
