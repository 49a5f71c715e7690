package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"billfetch-backend/lib/billstore"
	"billfetch-backend/lib/configuration"
	"billfetch-backend/lib/scrapers/materielnet"
	"billfetch-backend/lib/serviceutil"
	"billfetch-backend/lib/telemetry"
	"billfetch-backend/services/billfetch"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type ScraperConfig struct {
	BaseUrl       string   `json:"base_url"`
	SecureUrl     string   `json:"secure_url"`
	Variant       string   `json:"variant"`
	StatusMarkers []string `json:"status_markers"`
}

type Config struct {
	// path to the sqlite database holding fetched bills
	Database string        `json:"database"`
	Scraper  ScraperConfig `json:"scraper"`
}

func defaultConfig() Config {
	return Config{
		Database: "bills.db",
		Scraper: ScraperConfig{
			BaseUrl:   "https://www.materiel.net",
			SecureUrl: "https://secure.materiel.net",
			Variant:   string(billfetch.VariantPeriods),
		},
	}
}

// promptSolver asks the operator to solve the captcha in a browser and
// paste the resulting token.
type promptSolver struct{}

func (promptSolver) Solve(ctx context.Context, challenge materielnet.CaptchaChallenge) (string, error) {
	fmt.Fprintf(os.Stderr, "captcha required, solve it at: %s\n", challenge.PageURL)
	if challenge.SiteKey != "" {
		fmt.Fprintf(os.Stderr, "site key: %s\n", challenge.SiteKey)
	}
	fmt.Fprint(os.Stderr, "paste captcha token: ")

	line := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		text, _ := reader.ReadString('\n')
		line <- strings.TrimSpace(text)
	}()

	select {
	case token := <-line:
		if token == "" {
			return "", fmt.Errorf("empty captcha token")
		}
		return token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func renderBills(bills []materielnet.Bill) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Ref", "Date", "Amount", "File"})
	for _, bill := range bills {
		t.AppendRow(table.Row{
			bill.Ref,
			bill.Date.Format("2006-01-02"),
			fmt.Sprintf("%s %s", bill.Amount.StringFixed(2), bill.Currency),
			bill.FileName,
		})
	}
	t.Render()
}

func run(configPath string) error {
	_ = godotenv.Load()
	telemetry.InitSlog(os.Getenv("DEBUG") != "")

	ctx := serviceutil.SignalContext()
	tel, err := telemetry.SetupFromEnv(ctx, "billfetchd")
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	config := defaultConfig()
	if fromFile, err := configuration.Read[Config](configPath); err == nil {
		if fromFile.Database != "" {
			config.Database = fromFile.Database
		}
		if fromFile.Scraper.BaseUrl != "" {
			config.Scraper = fromFile.Scraper
		}
		if len(fromFile.Scraper.StatusMarkers) > 0 {
			config.Scraper.StatusMarkers = fromFile.Scraper.StatusMarkers
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	creds := materielnet.Credentials{
		Login:    os.Getenv("MATERIELNET_LOGIN"),
		Password: os.Getenv("MATERIELNET_PASSWORD"),
	}
	if creds.Login == "" || creds.Password == "" {
		return fmt.Errorf("MATERIELNET_LOGIN and MATERIELNET_PASSWORD must be set")
	}

	database, err := sql.Open("sqlite", config.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	store := billstore.NewStore(database)
	err = store.Init(ctx)
	if err != nil {
		return err
	}

	service := billfetch.NewService(billfetch.Options{
		Client: materielnet.ClientOptions{
			BaseUrl:       config.Scraper.BaseUrl,
			SecureUrl:     config.Scraper.SecureUrl,
			StatusMarkers: config.Scraper.StatusMarkers,
		},
		Variant: billfetch.Variant(config.Scraper.Variant),
		Solver:  promptSolver{},
		Sink:    store,
	})

	bills, err := service.Fetch(ctx, creds)
	if err != nil {
		return err
	}
	renderBills(bills)
	return nil
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "billfetchd",
		Short:        "fetches Materiel.net invoices into a local bill store",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config.json5", "path to the configuration file")

	err := root.Execute()
	if err != nil {
		serviceutil.Fatal("billfetchd failed", err)
	}
}
