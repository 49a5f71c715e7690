package materielnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/codes"
)

// BillingPeriod is one server-declared bucket of order history. The set
// of valid periods is discovered after login, never assumed.
type BillingPeriod struct {
	Duration int    `json:"Duration"`
	Value    string `json:"Value"`
}

// data fetches get a bounded retry for transient transport failures;
// authentication never does
const maxFetchRetries = 2

func newFetchBackoff() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Millisecond * 250
	return policy
}

// getListingDoc fetches one listing page, retrying transient transport
// errors and 5xx responses. Structural failures are permanent.
func (c *Client) getListingDoc(ctx context.Context, link string, query map[string]string) (*goquery.Document, error) {
	var doc *goquery.Document
	attempt := func() error {
		req := c.Http.R().SetContext(ctx)
		if query != nil {
			req.SetQueryParams(query)
		}
		res, err := req.Get(link)
		if err != nil {
			return err
		}
		if res.StatusCode() >= 500 {
			return fmt.Errorf("listing fetch returned status %d", res.StatusCode())
		}
		if !res.IsSuccess() {
			return backoff.Permanent(fmt.Errorf(
				"listing fetch returned status %d", res.StatusCode(),
			))
		}
		parsed, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err != nil {
			return backoff.Permanent(err)
		}
		doc = parsed
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newFetchBackoff(), maxFetchRetries),
		ctx,
	)
	err := backoff.Retry(attempt, policy)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FetchBillingPeriods enumerates the vendor's order-history buckets.
// Requires an authenticated session.
func (c *Client) FetchBillingPeriods(ctx context.Context) ([]BillingPeriod, error) {
	ctx, span := tracer.Start(ctx, "FetchBillingPeriods")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("accept", "application/json").
		Get(c.secure("/Orders/CompletedOrdersPeriodSelection"))
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch billing periods")
		return nil, err
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "unexpected status fetching billing periods")
		return nil, fmt.Errorf("billing periods returned status %d", res.StatusCode())
	}

	var periods []BillingPeriod
	err = json.Unmarshal(res.Body(), &periods)
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse billing periods")
		return nil, &ParseError{Field: "billing periods", Cause: err}
	}
	return periods, nil
}

// FetchBillsByPeriod walks every billing period concurrently and returns
// the flattened, normalized bill set. Order across periods is not
// guaranteed. If any period still fails after retries the whole result
// is discarded and a PartialFetchError names the failed periods.
func (c *Client) FetchBillsByPeriod(ctx context.Context) ([]Bill, error) {
	ctx, span := tracer.Start(ctx, "FetchBillsByPeriod")
	defer span.End()

	periods, err := c.FetchBillingPeriods(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		rows   []RawBillRow
		failed []string
		errs   []error
	)
	wg := sync.WaitGroup{}

	for _, period := range periods {
		period := period
		wg.Add(1)
		go func() {
			defer wg.Done()

			doc, err := c.getListingDoc(
				ctx,
				c.secure("/Orders/PartialCompletedOrdersHeader"),
				map[string]string{
					"Duration": strconv.Itoa(period.Duration),
					"Value":    period.Value,
				},
			)
			if err != nil {
				slog.ErrorContext(
					ctx,
					"failed to fetch billing period",
					"period", period.Value,
					"err", err,
				)
				mu.Lock()
				failed = append(failed, period.Value)
				errs = append(errs, err)
				mu.Unlock()
				return
			}

			periodRows := extractHistoricRows(doc)
			mu.Lock()
			rows = append(rows, periodRows...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// partial results are never reported on cancellation
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		span.SetStatus(codes.Error, "one or more billing periods failed")
		return nil, &PartialFetchError{
			Total:  len(periods),
			Failed: failed,
			Errs:   errs,
		}
	}

	return c.normalizeRows(ctx, rows, c.SecureUrl), nil
}
