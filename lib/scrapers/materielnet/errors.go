package materielnet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTokenNotFound      = errors.New("login token not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMalformedResponse  = errors.New("malformed login response")
	ErrPageStructure      = errors.New("unexpected page structure")
	ErrDateFormat         = errors.New("unrecognized date format")
	ErrPriceFormat        = errors.New("unrecognized price format")
)

// ParseError reports which field of a scraped page failed to parse. It
// signals the vendor changed their markup, so callers should not retry.
type ParseError struct {
	Field string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Field, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// CaptchaChallenge describes a captcha encountered during login. It is a
// recoverable state rather than a terminal failure: a solver can turn it
// into a captcha token for a second login attempt.
type CaptchaChallenge struct {
	SiteKey    string
	PageURL    string
	LoginToken string
}

type CaptchaError struct {
	Challenge CaptchaChallenge
}

func (e *CaptchaError) Error() string {
	return "captcha challenge required to continue login"
}

// PartialFetchError reports pages or periods that still failed after the
// retry policy was exhausted. The walk result is discarded entirely so
// callers never observe a silently incomplete bill set.
type PartialFetchError struct {
	Total  int
	Failed []string
	Errs   []error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf(
		"%d of %d fetches failed: %s",
		len(e.Failed), e.Total, strings.Join(e.Failed, ", "),
	)
}

func (e *PartialFetchError) Unwrap() []error {
	return e.Errs
}
