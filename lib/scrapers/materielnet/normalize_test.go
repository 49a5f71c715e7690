package materielnet

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseBillDate(t *testing.T) {
	date, err := parseBillDate("15/03/2023")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), date)

	_, err = parseBillDate("2023-03-15")
	require.ErrorIs(t, err, ErrDateFormat)
	_, err = parseBillDate("31/02/2023")
	require.ErrorIs(t, err, ErrDateFormat)
}

func TestParseBillPrice(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
	}{
		{"12,50 €", "12.5"},
		{"12€50", "12.5"},
		{"129,99 € TTC", "129.99"},
		{"1 249,00 €", "1249"},
		{"€12.50", "12.5"},
		{"0,00 €", "0"},
	}
	for _, tc := range testCases {
		amount, err := parseBillPrice(tc.raw)
		if err != nil {
			t.Fatalf("%q: %s", tc.raw, err)
		}
		require.True(
			t,
			amount.Equal(decimal.RequireFromString(tc.expected)),
			"%q parsed to %s, expected %s", tc.raw, amount, tc.expected,
		)
	}

	for _, raw := range []string{"", "gratuit", "-12,50 €", "12,50,00"} {
		_, err := parseBillPrice(raw)
		require.ErrorIs(t, err, ErrPriceFormat, "expected %q to fail", raw)
	}
}

func TestStatusKept(t *testing.T) {
	markers := DefaultStatusMarkers

	for _, status := range []string{
		"Terminée",
		"terminee",
		"TERMINÉE",
		"Commande expédiée",
		"commande expediee",
	} {
		require.True(t, statusKept(status, markers), "expected %q to be kept", status)
	}

	for _, status := range []string{
		"Annulée",
		"annulee",
		"En cours",
		"En cours de préparation",
	} {
		require.False(t, statusKept(status, markers), "expected %q to be dropped", status)
	}

	// rows on the period surface carry no status at all
	require.True(t, statusKept("", markers))
}

func TestNormalizeRow(t *testing.T) {
	origin, err := url.Parse("https://secure.materiel.net")
	if err != nil {
		t.Fatal(err)
	}

	bill, err := normalizeRow(RawBillRow{
		Ref:         "1234567",
		Date:        "15/03/2023",
		Price:       "129,99 € TTC",
		Status:      "Terminée",
		DocumentURL: "/Orders/DownloadOrderInvoice?orderId=1234567",
	}, origin)
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, "1234567", bill.Ref)
	require.Equal(t, time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), bill.Date)
	require.True(t, bill.Amount.Equal(decimal.RequireFromString("129.99")))
	require.Equal(t, "EUR", bill.Currency)
	require.Equal(t, "https://secure.materiel.net/Orders/DownloadOrderInvoice?orderId=1234567", bill.FileURL)
	require.Equal(t, "20230315_Materiel.net.pdf", bill.FileName)
	require.Equal(t, "Materiel.net", bill.Vendor)
}

func TestNormalizeRowsSkipsBadRows(t *testing.T) {
	origin, err := url.Parse("https://secure.materiel.net")
	if err != nil {
		t.Fatal(err)
	}
	client := &Client{markers: DefaultStatusMarkers}

	bills := client.normalizeRows(context.Background(), []RawBillRow{
		{Ref: "good", Date: "01/02/2023", Price: "10,00 €", Status: "Terminée", DocumentURL: "/doc/good"},
		{Ref: "bad-date", Date: "not a date", Price: "10,00 €", Status: "Terminée", DocumentURL: "/doc/bad"},
		{Ref: "bad-price", Date: "01/02/2023", Price: "free", Status: "Terminée", DocumentURL: "/doc/bad"},
		{Ref: "cancelled", Date: "01/02/2023", Price: "10,00 €", Status: "Annulée", DocumentURL: "/doc/cancelled"},
	}, origin)

	require.Len(t, bills, 1)
	require.Equal(t, "good", bills[0].Ref)
}
