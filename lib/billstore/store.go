package billstore

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"billfetch-backend/lib/scrapers/materielnet"

	_ "embed"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Store persists canonical bills in sqlite, deduplicating on the
// identity key set (dedup namespace + vendor reference). Re-saving an
// already stored bill is a no-op.
type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

func (s Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func namespaceOf(identifiers []string) string {
	return strings.Join(identifiers, ",")
}

// Save implements the record sink contract of the fetch service.
func (s Store) Save(ctx context.Context, bills []materielnet.Bill, identifiers []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	namespace := namespaceOf(identifiers)
	inserted := 0
	for _, bill := range bills {
		res, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO bill
				(namespace, ref, date, amount, currency, file_url, file_name, vendor)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			namespace,
			bill.Ref,
			bill.Date.Unix(),
			bill.Amount.StringFixed(2),
			bill.Currency,
			bill.FileURL,
			bill.FileName,
			bill.Vendor,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted += int(n)
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	slog.InfoContext(
		ctx,
		"bills persisted",
		"namespace", namespace,
		"saved", inserted,
		"duplicates", len(bills)-inserted,
	)
	return nil
}

// List returns every stored bill for the namespace, oldest first.
func (s Store) List(ctx context.Context, identifiers []string) ([]materielnet.Bill, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT ref, date, amount, currency, file_url, file_name, vendor
			FROM bill WHERE namespace = ? ORDER BY date ASC, ref ASC`,
		namespaceOf(identifiers),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []materielnet.Bill
	for rows.Next() {
		var (
			bill   materielnet.Bill
			date   int64
			amount string
		)
		err = rows.Scan(
			&bill.Ref, &date, &amount,
			&bill.Currency, &bill.FileURL, &bill.FileName, &bill.Vendor,
		)
		if err != nil {
			return nil, err
		}
		bill.Date = time.Unix(date, 0).UTC()
		bill.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}
