package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/scmhub/calendar"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/api"
	"github.com/dgnsrekt/gexbot-engine/internal/config"
	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/exposure"
)

// parseDates parses date arguments and returns a list of dates
func parseDates(args []string) ([]string, error) {
	const layout = "2006-01-02"

	start, err := time.Parse(layout, args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid start date format (use YYYY-MM-DD): %w", err)
	}

	if len(args) == 1 {
		return []string{args[0]}, nil
	}

	end, err := time.Parse(layout, args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid end date format (use YYYY-MM-DD): %w", err)
	}

	if end.Before(start) {
		return nil, fmt.Errorf("end date must be after start date")
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(layout))
	}

	return dates, nil
}

// filterMarketDays filters out non-trading days (weekends and NYSE holidays)
// and logs warnings for skipped dates
func filterMarketDays(dates []string, loc *time.Location, logger *zap.Logger) []string {
	nyse := calendar.XNYS()
	const layout = "2006-01-02 15:04:05"

	var marketDays []string
	for _, dateStr := range dates {
		// Parse as noon in the market timezone to ensure correct date matching
		t, _ := time.ParseInLocation(layout, dateStr+" 12:00:00", loc)
		if nyse.IsBusinessDay(t) {
			marketDays = append(marketDays, dateStr)
		} else {
			logger.Warn("skipping non-market day", zap.String("date", dateStr))
		}
	}
	return marketDays
}

// symbolsOrDefault returns the normalized override symbols, or the configured ones.
func symbolsOrDefault(override []string) ([]string, error) {
	if len(override) == 0 {
		return cfg.Refresh.Symbols, nil
	}
	symbols := config.NormalizeSymbols(override)
	if bad := config.InvalidSymbols(symbols); len(bad) > 0 {
		return nil, fmt.Errorf("invalid symbols: %v", bad)
	}
	return symbols, nil
}

func newClient() *api.HTTPClient {
	return api.NewClient(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		cfg.API.RatePerSecond,
		cfg.API.Timeout(),
		cfg.API.RetryDelayDuration(),
		cfg.API.RetryCount,
		logger,
	)
}

func openStore() (*data.Store, error) {
	return data.OpenStore(cfg.Store.Path, cfg.Store.MaxHistory, logger)
}

func newAggregator() *exposure.Aggregator {
	return exposure.NewAggregator(cfg.Refresh.Location(), cfg.Exposure.Workers, cfg.Exposure.MaxGridPoints, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
