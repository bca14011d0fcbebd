package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

const bscscanSource = "bscscan"

// BscScanClient client for the BscScan (Etherscan-compatible) API
type BscScanClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBscScanClient creates a new BscScan client
func NewBscScanClient(baseURL string, timeout time.Duration) *BscScanClient {
	if baseURL == "" {
		baseURL = "https://api.bscscan.com/api"
	}
	return &BscScanClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout),
	}
}

// EVMTransaction is the subset of eth_getTransactionByHash used here
type EVMTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	BlockNumber *hexutil.Big    `json:"blockNumber"` // nil while pending
}

// Pending reports whether the transaction is not yet in a block
func (t *EVMTransaction) Pending() bool {
	return t.BlockNumber == nil
}

type rpcLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
	Index   hexutil.Uint   `json:"logIndex"`
}

// EVMReceipt is the subset of eth_getTransactionReceipt used here
type EVMReceipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
	Status      hexutil.Uint64 `json:"status"`
	RawLogs     []rpcLog       `json:"logs"`
}

// Succeeded reports a status of 0x1
func (r *EVMReceipt) Succeeded() bool {
	return uint64(r.Status) == types.ReceiptStatusSuccessful
}

// Logs converts the receipt logs into go-ethereum log values
func (r *EVMReceipt) Logs() []*types.Log {
	logs := make([]*types.Log, 0, len(r.RawLogs))
	for _, l := range r.RawLogs {
		entry := &types.Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			TxHash:  r.TxHash,
			Index:   uint(l.Index),
		}
		if r.BlockNumber != nil {
			entry.BlockNumber = r.BlockNumber.ToInt().Uint64()
		}
		logs = append(logs, entry)
	}
	return logs
}

// TokenTransfer is one row of account/tokentx
type TokenTransfer struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	Confirmations   string `json:"confirmations"`
	LogIndex        string `json:"logIndex"`
}

type bscscanEnvelope struct {
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *BscScanClient) call(ctx context.Context, endpoint string, query url.Values) (*bscscanEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	body, err := doRequest(c.httpClient, req, bscscanSource, endpoint)
	if err != nil {
		return nil, err
	}
	var env bscscanEnvelope
	if err := decodeJSON(body, &env, bscscanSource, endpoint); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, &APIError{Source: bscscanSource, Endpoint: endpoint, StatusCode: http.StatusOK, Code: env.Error.Code, Message: env.Error.Message}
	}
	return &env, nil
}

// proxy calls a module=proxy JSON-RPC passthrough; a null result means unknown
func (c *BscScanClient) proxy(ctx context.Context, apiKey, action, hash string, out interface{}) error {
	query := url.Values{}
	query.Set("module", "proxy")
	query.Set("action", action)
	query.Set("txhash", hash)
	if apiKey != "" {
		query.Set("apikey", apiKey)
	}

	env, err := c.call(ctx, action, query)
	if err != nil {
		return err
	}
	result := strings.TrimSpace(string(env.Result))
	if result == "" || result == "null" {
		return fmt.Errorf("%s %s: %w", bscscanSource, action, ErrNotFound)
	}
	// Rate limits and key errors come back as {"status":"0","result":"<text>"}
	if strings.HasPrefix(result, `"`) {
		var text string
		_ = json.Unmarshal(env.Result, &text)
		return &APIError{Source: bscscanSource, Endpoint: action, StatusCode: http.StatusOK, Code: -1, Message: text}
	}
	return decodeJSON(env.Result, out, bscscanSource, action)
}

// GetTransactionByHash calls eth_getTransactionByHash
func (c *BscScanClient) GetTransactionByHash(ctx context.Context, apiKey, hash string) (*EVMTransaction, error) {
	var tx EVMTransaction
	if err := c.proxy(ctx, apiKey, "eth_getTransactionByHash", hash, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransactionReceipt calls eth_getTransactionReceipt
func (c *BscScanClient) GetTransactionReceipt(ctx context.Context, apiKey, hash string) (*EVMReceipt, error) {
	var receipt EVMReceipt
	if err := c.proxy(ctx, apiKey, "eth_getTransactionReceipt", hash, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// TokenTransfers lists the latest token transfers touching address, newest first
func (c *BscScanClient) TokenTransfers(ctx context.Context, apiKey, contract, address string) ([]TokenTransfer, error) {
	query := url.Values{}
	query.Set("module", "account")
	query.Set("action", "tokentx")
	query.Set("contractaddress", contract)
	query.Set("address", address)
	query.Set("startblock", "0")
	query.Set("endblock", "99999999")
	query.Set("sort", "desc")
	if apiKey != "" {
		query.Set("apikey", apiKey)
	}

	env, err := c.call(ctx, "tokentx", query)
	if err != nil {
		return nil, err
	}

	var transfers []TokenTransfer
	if err := json.Unmarshal(env.Result, &transfers); err != nil {
		// status "0" carries either "No transactions found" with [] or an error string
		if env.Status == "0" && strings.Contains(strings.ToLower(env.Message), "no transactions") {
			return nil, nil
		}
		var text string
		_ = json.Unmarshal(env.Result, &text)
		return nil, &APIError{Source: bscscanSource, Endpoint: "tokentx", StatusCode: http.StatusOK, Code: -1, Message: strings.TrimSpace(env.Message + " " + text)}
	}
	return transfers, nil
}
