package reader

import (
	"testing"

	appconfig "fundingheat/config"
	"fundingheat/reader/binance"
	"fundingheat/reader/bybit"
	"fundingheat/reader/kucoin"
)

func TestNewSelectsExchange(t *testing.T) {
	cfg := appconfig.Default()

	src, err := New(&cfg)
	if err != nil {
		t.Fatalf("new binance: %v", err)
	}
	if _, ok := src.(*binance.Reader); !ok {
		t.Fatalf("expected binance reader, got %T", src)
	}

	cfg.Source.Exchange = "bybit"
	src, err = New(&cfg)
	if err != nil {
		t.Fatalf("new bybit: %v", err)
	}
	if _, ok := src.(*bybit.Reader); !ok {
		t.Fatalf("expected bybit reader, got %T", src)
	}

	cfg.Source.Exchange = "kucoin"
	src, err = New(&cfg)
	if err != nil {
		t.Fatalf("new kucoin: %v", err)
	}
	if _, ok := src.(*kucoin.Reader); !ok {
		t.Fatalf("expected kucoin reader, got %T", src)
	}

	cfg.Source.Exchange = "kraken"
	if _, err := New(&cfg); err == nil {
		t.Fatalf("expected error for unsupported exchange")
	}
}
