package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const blockcypherSource = "blockcypher"

// BlockCypherClient client for the BlockCypher chain explorer API
type BlockCypherClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBlockCypherClient creates a new BlockCypher client
func NewBlockCypherClient(baseURL string, timeout time.Duration) *BlockCypherClient {
	if baseURL == "" {
		baseURL = "https://api.blockcypher.com/v1/ltc/main"
	}
	return &BlockCypherClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout),
	}
}

// UTXOOutput is one transaction output; Value is in base units (1e-8)
type UTXOOutput struct {
	Value     int64    `json:"value"`
	Addresses []string `json:"addresses"`
}

// UTXOInput is one transaction input
type UTXOInput struct {
	Addresses []string `json:"addresses"`
}

// UTXOTransaction is the subset of a BlockCypher transaction used here
type UTXOTransaction struct {
	Hash          string       `json:"hash"`
	BlockHeight   int64        `json:"block_height"`
	Confirmations int64        `json:"confirmations"`
	Received      *time.Time   `json:"received,omitempty"`
	Confirmed     *time.Time   `json:"confirmed,omitempty"`
	Inputs        []UTXOInput  `json:"inputs"`
	Outputs       []UTXOOutput `json:"outputs"`
}

// ValueTo sums the outputs paying address
func (t *UTXOTransaction) ValueTo(address string) (int64, bool) {
	var total int64
	found := false
	for _, out := range t.Outputs {
		for _, a := range out.Addresses {
			if a == address {
				total += out.Value
				found = true
				break
			}
		}
	}
	return total, found
}

// Sender returns the first input address
func (t *UTXOTransaction) Sender() string {
	for _, in := range t.Inputs {
		if len(in.Addresses) > 0 {
			return in.Addresses[0]
		}
	}
	return ""
}

type utxoAddress struct {
	Address string            `json:"address"`
	Txs     []UTXOTransaction `json:"txs"`
}

func (c *BlockCypherClient) get(ctx context.Context, endpoint, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	body, err := doRequest(c.httpClient, req, blockcypherSource, endpoint)
	if err != nil {
		return err
	}
	return decodeJSON(body, out, blockcypherSource, endpoint)
}

// GetTransaction calls GET /txs/{hash}
func (c *BlockCypherClient) GetTransaction(ctx context.Context, token, hash string) (*UTXOTransaction, error) {
	query := url.Values{}
	if token != "" {
		query.Set("token", token)
	}
	var tx UTXOTransaction
	if err := c.get(ctx, "txs", "/txs/"+url.PathEscape(hash), query, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// AddressTransactions calls GET /addrs/{address}/full and returns the most recent transactions
func (c *BlockCypherClient) AddressTransactions(ctx context.Context, token, address string, limit int) ([]UTXOTransaction, error) {
	query := url.Values{}
	if token != "" {
		query.Set("token", token)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp utxoAddress
	if err := c.get(ctx, "addrs_full", "/addrs/"+url.PathEscape(address)+"/full", query, &resp); err != nil {
		return nil, err
	}
	return resp.Txs, nil
}
