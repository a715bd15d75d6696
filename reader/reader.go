package reader

import (
	"fmt"

	appconfig "fundingheat/config"
	"fundingheat/processor"
	"fundingheat/reader/binance"
	"fundingheat/reader/bybit"
	"fundingheat/reader/kucoin"
)

// Source is an exchange that can rank symbols and serve funding history.
type Source interface {
	processor.RankingSource
	processor.RateSource
}

// New returns the reader selected by source.exchange.
func New(cfg *appconfig.Config) (Source, error) {
	switch cfg.Source.Exchange {
	case "binance", "":
		return binance.NewReader(cfg), nil
	case "bybit":
		return bybit.NewReader(cfg), nil
	case "kucoin":
		return kucoin.NewReader(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", cfg.Source.Exchange)
	}
}
