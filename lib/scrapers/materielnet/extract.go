package materielnet

import (
	"strings"

	"billfetch-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// marker the vendor injects into the login form when it decides the
// client needs human verification
const captchaMarker = "window.renderCaptcha()"

const loginTokenSelector = "#login form input[name='__RequestVerificationToken']"

// RawBillRow holds the fields of one order row exactly as scraped,
// before any locale-aware parsing.
type RawBillRow struct {
	Ref    string
	Date   string
	Price  string
	Status string
	// relative invoice document link
	DocumentURL string
}

func extractLoginToken(doc *goquery.Document) (string, error) {
	token, ok := htmlutil.InputValue(doc, loginTokenSelector)
	if !ok || token == "" {
		return "", &ParseError{
			Field: "__RequestVerificationToken",
			Cause: ErrTokenNotFound,
		}
	}
	return token, nil
}

func findCaptcha(body string, doc *goquery.Document, pageURL string) *CaptchaChallenge {
	if !strings.Contains(body, captchaMarker) {
		return nil
	}
	siteKey := ""
	if doc != nil {
		siteKey = doc.Find("[data-sitekey]").AttrOr("data-sitekey", "")
	}
	return &CaptchaChallenge{
		SiteKey: siteKey,
		PageURL: pageURL,
	}
}

// extractPageCount derives the number of listing pages from the
// pagination controls; a listing without controls is a single page.
func extractPageCount(doc *goquery.Document) int {
	count := doc.Find("#ListCmd .EpListBLine ul.pagination li.num").Length()
	if count == 0 {
		return 1
	}
	return count
}

// extractHistoricRows pulls order rows out of the period-based listing
// markup (the .historic card layout).
func extractHistoricRows(doc *goquery.Document) []RawBillRow {
	var rows []RawBillRow
	doc.Find(".historic").Each(func(_ int, entry *goquery.Selection) {
		ref := htmlutil.CleanText(entry.Find(".historic-cell--ref"))
		ref = strings.TrimSpace(strings.TrimPrefix(ref, "Nº"))

		detail := entry.Find(".historic-cell--details a").AttrOr("href", "")
		docUrl := strings.Replace(
			detail,
			"PartialCompletedOrderContent",
			"DownloadOrderInvoice",
			1,
		)

		rows = append(rows, RawBillRow{
			Ref:         ref,
			Date:        htmlutil.CleanText(entry.Find(".historic-cell--date")),
			Price:       htmlutil.CleanText(entry.Find(".historic-cell--price")),
			Status:      htmlutil.CleanText(entry.Find(".historic-cell--status")),
			DocumentURL: docUrl,
		})
	})
	return rows
}

// extractTableRows pulls order rows out of the page-indexed listing
// markup (the #ListCmd table layout). The first cell is a line number,
// not the order reference.
func extractTableRows(doc *goquery.Document) []RawBillRow {
	var rows []RawBillRow
	doc.Find("#ListCmd table tr[data-order]").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		ref := htmlutil.CleanText(cells.Eq(1))

		rows = append(rows, RawBillRow{
			Ref:         ref,
			Date:        htmlutil.CleanText(cells.Eq(2)),
			Price:       htmlutil.CleanText(cells.Eq(3)),
			Status:      htmlutil.CleanText(cells.Eq(4)),
			DocumentURL: "/pm/client/facture.nt.html?ref=" + ref,
		})
	})
	return rows
}
