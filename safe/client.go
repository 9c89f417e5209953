package safe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/ChainSafe/log15"
	"github.com/ethereum/go-ethereum/common"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
)

// Client talks to the external multisig coordination service over HTTP.
type Client struct {
	baseURL string
	hc      *http.Client
	logger  log.Logger
}

// NewClient returns a client for the service at the given base URL. A
// nil http client gets a sane default.
func NewClient(baseURL string, hc *http.Client, logger log.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = custos.DefaultLogger
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
		logger:  logger,
	}
}

// listEnvelope is the paginated response wrapper of the service.
type listEnvelope struct {
	Count   int         `json:"count"`
	Results []PendingTx `json:"results"`
}

// ListPending fetches the queued transactions of the given wallet with
// their confirmation state.
func (c *Client) ListPending(ctx custos.Context, safe common.Address) ([]PendingTx, error) {
	url := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/", c.baseURL, safe.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInput, err.Error())
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var envelope listEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errors.Wrapf(errors.ErrSerialization, "decode response: %s", err)
	}
	return envelope.Results, nil
}

// ProposeRequest is the body of a transaction proposal.
type ProposeRequest struct {
	To                      common.Address `json:"to"`
	Value                   string         `json:"value"`
	Data                    string         `json:"data"`
	Operation               int            `json:"operation"`
	SafeTxGas               uint64         `json:"safeTxGas"`
	BaseGas                 uint64         `json:"baseGas"`
	GasPrice                string         `json:"gasPrice"`
	GasToken                common.Address `json:"gasToken"`
	RefundReceiver          common.Address `json:"refundReceiver"`
	Nonce                   uint64         `json:"nonce"`
	ContractTransactionHash string         `json:"contractTransactionHash"`
	Sender                  common.Address `json:"sender"`
	Signature               string         `json:"signature"`
	Origin                  string         `json:"origin"`
}

// Propose queues a new transaction on the wallet.
func (c *Client) Propose(ctx custos.Context, safe common.Address, proposal ProposeRequest) error {
	body, err := json.Marshal(proposal)
	if err != nil {
		return errors.Wrap(errors.ErrSerialization, err.Error())
	}
	url := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/", c.baseURL, safe.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrInput, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// checkStatus surfaces a non 2xx response verbatim to the caller.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return errors.Wrapf(errors.ErrCoordination, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
