package materielnet

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"billfetch-backend/lib/textutil"

	"github.com/shopspring/decimal"
)

// Bill is the canonical, locale-free form of one completed order.
type Bill struct {
	Ref      string
	Date     time.Time
	Amount   decimal.Decimal
	Currency string
	FileURL  string
	FileName string
	Vendor   string
}

func parseBillDate(raw string) (time.Time, error) {
	date, err := time.Parse("02/01/2006", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, &ParseError{Field: "date", Cause: ErrDateFormat}
	}
	return date, nil
}

// parseBillPrice turns the vendor's locale price strings into a decimal
// with two fractional digits. Both decorations are handled: a trailing
// currency symbol with a comma decimal separator ("12,50 €") and the
// symbol used as the decimal marker itself ("12€50").
func parseBillPrice(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "TTC")
	s = strings.TrimSpace(s)

	switch {
	case strings.HasPrefix(s, "€"), strings.HasSuffix(s, "€"):
		s = strings.ReplaceAll(s, "€", "")
	case strings.Contains(s, "€"):
		s = strings.Replace(s, "€", ".", 1)
	}
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, s)
	s = strings.Replace(s, ",", ".", 1)

	amount, err := decimal.NewFromString(s)
	if err != nil || amount.IsNegative() {
		return decimal.Decimal{}, &ParseError{Field: "price", Cause: ErrPriceFormat}
	}
	return amount.Round(2), nil
}

// statusKept decides whether a row represents a completed order. Rows on
// the period surface carry no status text at all, the vendor only lists
// completed orders there, so an empty status passes.
func statusKept(status string, markers []string) bool {
	if strings.TrimSpace(status) == "" {
		return true
	}
	return textutil.HasAnyPrefix(status, markers)
}

func normalizeRow(row RawBillRow, origin *url.URL) (Bill, error) {
	date, err := parseBillDate(row.Date)
	if err != nil {
		return Bill{}, err
	}
	amount, err := parseBillPrice(row.Price)
	if err != nil {
		return Bill{}, err
	}

	docUrl, err := url.Parse(row.DocumentURL)
	if err != nil {
		return Bill{}, &ParseError{Field: "document url", Cause: err}
	}

	return Bill{
		Ref:      row.Ref,
		Date:     date,
		Amount:   amount,
		Currency: "EUR",
		FileURL:  origin.ResolveReference(docUrl).String(),
		FileName: fmt.Sprintf("%s_%s.pdf", date.Format("20060102"), Vendor),
		Vendor:   Vendor,
	}, nil
}

// normalizeRows converts raw rows into canonical bills. A row that fails
// to parse is logged and skipped; it never aborts the walk. Rows whose
// status does not mark a completed order are dropped silently.
func (c *Client) normalizeRows(ctx context.Context, rows []RawBillRow, origin *url.URL) []Bill {
	var bills []Bill
	for _, row := range rows {
		if !statusKept(row.Status, c.markers) {
			continue
		}
		bill, err := normalizeRow(row, origin)
		if err != nil {
			slog.WarnContext(
				ctx,
				"skipping unparsable order row",
				"ref", row.Ref,
				"err", err,
			)
			continue
		}
		bills = append(bills, bill)
	}
	return bills
}
