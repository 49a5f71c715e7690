package materielnet

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

const legacyListingPath = "/pm/client/commande.html"

// FetchBillsByPage walks the page-indexed legacy listing surface: the
// first page declares how many pages exist via its pagination controls,
// pages 2..N are fetched concurrently and all row sets are merged before
// normalization. Row order across pages is not guaranteed.
func (c *Client) FetchBillsByPage(ctx context.Context) ([]Bill, error) {
	ctx, span := tracer.Start(ctx, "FetchBillsByPage")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(c.base(legacyListingPath))
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch order listing")
		return nil, err
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "unexpected status fetching order listing")
		return nil, fmt.Errorf("order listing returned status %d", res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse order listing html")
		return nil, err
	}
	if doc.Find("#ListCmd").Length() == 0 {
		span.SetStatus(codes.Error, "order listing missing expected container")
		return nil, &ParseError{Field: "#ListCmd", Cause: ErrPageStructure}
	}

	pageCount := extractPageCount(doc)
	rows := extractTableRows(doc)

	var (
		mu     sync.Mutex
		failed []string
		errs   []error
	)
	wg := sync.WaitGroup{}

	for page := 2; page <= pageCount; page++ {
		page := page
		wg.Add(1)
		go func() {
			defer wg.Done()

			pageDoc, err := c.getListingDoc(
				ctx,
				c.base(legacyListingPath),
				map[string]string{"page": strconv.Itoa(page)},
			)
			if err != nil {
				slog.ErrorContext(
					ctx,
					"failed to fetch listing page",
					"page", page,
					"err", err,
				)
				mu.Lock()
				failed = append(failed, fmt.Sprintf("page %d", page))
				errs = append(errs, err)
				mu.Unlock()
				return
			}

			pageRows := extractTableRows(pageDoc)
			mu.Lock()
			rows = append(rows, pageRows...)
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
		span.SetStatus(codes.Error, "one or more listing pages failed")
		return nil, &PartialFetchError{
			Total:  pageCount,
			Failed: failed,
			Errs:   errs,
		}
	}

	return c.normalizeRows(ctx, rows, c.BaseUrl), nil
}
