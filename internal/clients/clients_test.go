package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCoinExSignIncludesPrefixQueryAndTimestamp(t *testing.T) {
	c := NewCoinExClient("https://api.coinex.com/v2", 0, time.Second)

	a := c.Sign("secret", "GET", "/assets/deposit-history", "limit=100&page=1", "", 1700000000000)
	b := c.Sign("secret", "get", "/assets/deposit-history", "limit=100&page=1", "", 1700000000000)
	if a != b {
		t.Fatalf("method case should not change the signature")
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Fatalf("expected lowercase hex sha256, got %q", a)
	}
	if a == c.Sign("secret", "GET", "/assets/deposit-history", "limit=100&page=2", "", 1700000000000) {
		t.Fatalf("query must be part of the signature")
	}
	if a == c.Sign("secret", "GET", "/assets/deposit-history", "limit=100&page=1", "", 1700000000001) {
		t.Fatalf("timestamp must be part of the signature")
	}
}

func TestCoinExDepositHistory(t *testing.T) {
	var gotQuery, gotKey, gotSign, gotTS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/assets/deposit-history" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-COINEX-KEY")
		gotSign = r.Header.Get("X-COINEX-SIGN")
		gotTS = r.Header.Get("X-COINEX-TIMESTAMP")
		w.Write([]byte(`{"code":0,"message":"OK","data":[
			{"deposit_id":101,"tx_id":"","from_address":"Alice@Ex.com","amount":"10.37","ccy":"USDT","status":"finish","created_at":1700000000000}
		],"pagination":{"has_next":false}}`))
	}))
	defer srv.Close()

	c := NewCoinExClient(srv.URL+"/v2", 50, time.Second)
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }
	creds := CoinExCredentials{AccessID: "id", SecretKey: "secret"}

	deposits, hasNext, err := c.DepositHistory(context.Background(), creds, DepositHistoryQuery{Ccy: "usdt", Status: "finished"})
	if err != nil {
		t.Fatalf("DepositHistory: %v", err)
	}
	if hasNext {
		t.Fatalf("unexpected has_next")
	}
	if len(deposits) != 1 || deposits[0].ExternalID() != "101" || deposits[0].Amount.String() != "10.37" {
		t.Fatalf("unexpected deposits: %+v", deposits)
	}
	if deposits[0].CreatedTime().IsZero() {
		t.Fatalf("created_at not decoded")
	}
	if gotQuery != "ccy=USDT&limit=50&page=1&status=finished" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotKey != "id" || gotTS != "1700000000123" {
		t.Fatalf("unexpected auth headers key=%q ts=%q", gotKey, gotTS)
	}
	want := c.Sign("secret", "GET", "/assets/deposit-history", gotQuery, "", 1700000000123)
	if gotSign != want {
		t.Fatalf("signature mismatch: got %s want %s", gotSign, want)
	}
}

func TestCoinExErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":3008,"message":"Service busy","data":{}}`))
	}))
	defer srv.Close()

	c := NewCoinExClient(srv.URL+"/v2", 0, time.Second)
	_, err := c.AccountInfo(context.Background(), CoinExCredentials{AccessID: "id", SecretKey: "s"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 3008 {
		t.Fatalf("expected APIError with code 3008, got %v", err)
	}
}

func TestBscScanNullResultIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer srv.Close()

	c := NewBscScanClient(srv.URL, time.Second)
	_, err := c.GetTransactionByHash(context.Background(), "key", "0x01")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBscScanReceiptLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "eth_getTransactionReceipt" || r.URL.Query().Get("apikey") != "key" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{
			"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa",
			"blockNumber":"0x10","status":"0x1",
			"logs":[{"address":"0x55d398326f99059ff775485246999027b3197955",
				"topics":["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"],
				"data":"0x01","logIndex":"0x2"}]}}`))
	}))
	defer srv.Close()

	c := NewBscScanClient(srv.URL, time.Second)
	receipt, err := c.GetTransactionReceipt(context.Background(), "key", "0xaa")
	if err != nil {
		t.Fatalf("GetTransactionReceipt: %v", err)
	}
	if !receipt.Succeeded() {
		t.Fatalf("expected success status")
	}
	logs := receipt.Logs()
	if len(logs) != 1 || logs[0].Index != 2 || logs[0].BlockNumber != 16 || len(logs[0].Data) != 1 {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestBscScanRateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewBscScanClient(srv.URL, time.Second)
	_, err := c.TokenTransfers(context.Background(), "key", "0xc", "0xa")
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestBscScanNoTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	c := NewBscScanClient(srv.URL, time.Second)
	transfers, err := c.TokenTransfers(context.Background(), "key", "0xc", "0xa")
	if err != nil || len(transfers) != 0 {
		t.Fatalf("expected empty list, got %v %v", transfers, err)
	}
}

func TestBlockCypherTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/txs/known":
			if r.URL.Query().Get("token") != "tok" {
				t.Errorf("token not forwarded")
			}
			w.Write([]byte(`{"hash":"known","confirmations":6,
				"inputs":[{"addresses":["Lsender"]}],
				"outputs":[{"value":544000000,"addresses":["Ldest"]},{"value":1000,"addresses":["Lchange"]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Transaction not found"}`))
		}
	}))
	defer srv.Close()

	c := NewBlockCypherClient(srv.URL, time.Second)
	tx, err := c.GetTransaction(context.Background(), "tok", "known")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	value, ok := tx.ValueTo("Ldest")
	if !ok || value != 544000000 || tx.Sender() != "Lsender" {
		t.Fatalf("unexpected tx %+v", tx)
	}

	_, err = c.GetTransaction(context.Background(), "tok", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
