package billstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"billfetch-backend/lib/scrapers/materielnet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setup(t *testing.T) Store {
	sqlite, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })

	store := NewStore(sqlite)
	err = store.Init(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func testBill(ref string, date time.Time, amount string) materielnet.Bill {
	return materielnet.Bill{
		Ref:      ref,
		Date:     date,
		Amount:   decimal.RequireFromString(amount),
		Currency: "EUR",
		FileURL:  "https://secure.materiel.net/Orders/DownloadOrderInvoice?orderId=" + ref,
		FileName: date.Format("20060102") + "_Materiel.net.pdf",
		Vendor:   materielnet.Vendor,
	}
}

func TestSaveAndList(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	identifiers := []string{"materiel.net"}

	older := testBill("1001", time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC), "45.00")
	newer := testBill("2001", time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), "129.99")

	err := store.Save(ctx, []materielnet.Bill{newer, older}, identifiers)
	if err != nil {
		t.Fatal(err)
	}

	bills, err := store.List(ctx, identifiers)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, bills, 2)
	require.Equal(t, "1001", bills[0].Ref)
	require.Equal(t, "2001", bills[1].Ref)
	require.True(t, bills[0].Amount.Equal(decimal.RequireFromString("45.00")))
	require.Equal(t, older.Date, bills[0].Date)
}

func TestSaveDeduplicates(t *testing.T) {
	store := setup(t)
	ctx := context.Background()
	identifiers := []string{"materiel.net"}

	bill := testBill("1001", time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC), "45.00")

	err := store.Save(ctx, []materielnet.Bill{bill}, identifiers)
	if err != nil {
		t.Fatal(err)
	}
	err = store.Save(ctx, []materielnet.Bill{bill}, identifiers)
	if err != nil {
		t.Fatal(err)
	}

	bills, err := store.List(ctx, identifiers)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, bills, 1)
}

func TestNamespacesAreIsolated(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	bill := testBill("1001", time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC), "45.00")

	err := store.Save(ctx, []materielnet.Bill{bill}, []string{"materiel.net"})
	if err != nil {
		t.Fatal(err)
	}

	other, err := store.List(ctx, []string{"other-vendor"})
	if err != nil {
		t.Fatal(err)
	}
	require.Empty(t, other)
}
