package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"fincon/internal/api"
	"fincon/internal/cli"
	"fincon/internal/config"
	"fincon/internal/core"
	"fincon/internal/dashboard"
	"fincon/internal/log"
	ports "fincon/internal/sheets"
	gsheet "fincon/internal/sheets/google"
	mem "fincon/internal/sheets/memory"
)

func main() {
	year := flag.String("year", "", "year to export (default: current)")
	month := flag.String("month", "", "month to export, 1-12 (default: current)")
	dryRun := flag.Bool("dry-run", false, "log the rows instead of writing to Google Sheets")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentSheets)

	mode := config.ModeExport
	if *dryRun {
		mode = config.ModeExportDryRun
	}
	cfg := cli.LoadAndValidateConfig(logger, mode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	m := dashboard.ResolveMonth(*year, *month, time.Now())

	client, err := api.New(cfg.APIURL, api.WithTimeout(cfg.APITimeout), api.WithLogger(logger.WithComponent(log.ComponentAPI)))
	if err != nil {
		logger.Error("Failed to create API client", log.FieldError, err)
		os.Exit(1)
	}

	token, err := client.Login(ctx, core.Credentials{
		Email:    strings.TrimSpace(os.Getenv("FINCON_EMAIL")),
		Password: os.Getenv("FINCON_PASSWORD"),
	})
	if err != nil {
		logger.Error("Login failed (set FINCON_EMAIL and FINCON_PASSWORD)", log.FieldError, err)
		os.Exit(1)
	}
	ctx = api.WithToken(ctx, token)

	var (
		writer ports.SummaryWriter
		store  *mem.Store
	)
	if *dryRun {
		store = mem.New()
		writer = store
	} else {
		writer, err = gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
	}

	ref, err := ports.Export(ctx, client, writer, m)
	if err != nil {
		logger.Error("Export failed", log.FieldError, err, log.FieldOperation, log.OpExport)
		os.Exit(1)
	}

	if store != nil {
		rows, _ := store.Month(m)
		for _, row := range rows {
			logger.Info("Row", "values", row)
		}
	}
	logger.Info("Export complete",
		log.FieldYear, m.Year,
		log.FieldMonth, int(m.Month),
		"range", ref,
		log.FieldOperation, log.OpExport)
}
