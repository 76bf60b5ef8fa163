package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/nvega-systems/perp-scalper/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNewMarketFeedBuildsCombinedStreamURL(t *testing.T) {
	t.Parallel()
	f := NewMarketFeed("wss://fstream.example.com", []string{"BTCUSDT", "ETHUSDT"}, 16, testLogger())
	want := "wss://fstream.example.com/stream?streams=btcusdt@aggTrade/btcusdt@bookTicker/ethusdt@aggTrade/ethusdt@bookTicker"
	if f.url != want {
		t.Fatalf("url = %q, want %q", f.url, want)
	}
}

func TestMarketFeedDispatchAggTrade(t *testing.T) {
	t.Parallel()
	f := NewMarketFeed("wss://unused.invalid", []string{"BTCUSDT"}, 16, testLogger())

	msg := `{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1000,"s":"BTCUSDT","a":42,"p":"50000.5","q":"0.01","m":false}}`
	f.dispatchMessage(context.Background(), []byte(msg))

	select {
	case trade := <-f.TradeEvents():
		if trade.Symbol != "BTCUSDT" || trade.TradeID != 42 {
			t.Fatalf("unexpected trade: %+v", trade)
		}
		if !trade.Price.Equal(mustDecimal("50000.5")) {
			t.Fatalf("unexpected price: %s", trade.Price)
		}
	default:
		t.Fatal("expected trade event on channel")
	}
}

func TestMarketFeedDispatchBookTicker(t *testing.T) {
	t.Parallel()
	f := NewMarketFeed("wss://unused.invalid", []string{"BTCUSDT"}, 16, testLogger())

	msg := `{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"49999","B":"1.5","a":"50001","A":"2.0"}}`
	f.dispatchMessage(context.Background(), []byte(msg))

	select {
	case ticker := <-f.BookTickerEvents():
		if ticker.Symbol != "BTCUSDT" || !ticker.BidPrice.Equal(mustDecimal("49999")) {
			t.Fatalf("unexpected ticker: %+v", ticker)
		}
	default:
		t.Fatal("expected book ticker event on channel")
	}
}

func TestMarketFeedSequenceGapUpdatesLastID(t *testing.T) {
	t.Parallel()
	f := NewMarketFeed("wss://unused.invalid", []string{"BTCUSDT"}, 16, testLogger())

	f.checkSequenceGap("BTCUSDT", 10)
	if got := f.lastTradeID["BTCUSDT"]; got != 10 {
		t.Fatalf("last id = %d, want 10", got)
	}
	// A jump from 10 to 15 is a gap but must not stop tracking progress.
	f.checkSequenceGap("BTCUSDT", 15)
	if got := f.lastTradeID["BTCUSDT"]; got != 15 {
		t.Fatalf("last id after gap = %d, want 15", got)
	}
}

func TestMarketFeedIgnoresUnknownStream(t *testing.T) {
	t.Parallel()
	f := NewMarketFeed("wss://unused.invalid", []string{"BTCUSDT"}, 16, testLogger())
	f.dispatchMessage(context.Background(), []byte(`{"stream":"btcusdt@markPrice","data":{}}`))

	select {
	case trade := <-f.TradeEvents():
		t.Fatalf("unexpected trade event: %+v", trade)
	default:
	}
}

// TestMarketFeedConnectAndReadReceivesTrade exercises one connect/read cycle
// (the loop Run repeats) against a real in-process WebSocket server,
// verifying a published aggTrade reaches TradeEvents through connectAndRead
// rather than through a direct dispatchMessage call.
func TestMarketFeedConnectAndReadReceivesTrade(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1,"s":"BTCUSDT","a":7,"p":"100","q":"1","m":true}}`)
		conn.WriteMessage(websocket.TextMessage, msg)
		// Keep the connection open until the test is done reading.
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	f := &MarketFeed{
		url:         wsURL,
		lastTradeID: make(map[string]int64),
		tradeCh:     make(chan types.Trade, 4),
		bookCh:      make(chan types.BookTicker, 4),
		logger:      testLogger(),
	}

	done := make(chan struct{})
	go func() {
		f.connectAndRead(context.Background())
		close(done)
	}()

	select {
	case trade := <-f.TradeEvents():
		if trade.TradeID != 7 || !trade.IsBuyerMaker {
			t.Fatalf("unexpected trade: %+v", trade)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade event")
	}
	<-done
}
