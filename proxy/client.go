package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// jsonRPCVersion is the protocol version of all requests.
	jsonRPCVersion = "2.0"

	// DefaultTimeout is the timeout of a single proxy request.
	DefaultTimeout = 90 * time.Second
)

var (
	// ErrNotFound is returned if the proxy doesn't know the requested
	// consignment.
	ErrNotFound = errors.New("consignment not found")
)

// Consignment is the off-chain payload a recipient needs to validate a
// transfer, together with the anchor it is committed to.
type Consignment struct {
	// Txid is the transaction that anchors the transfer.
	Txid chainhash.Hash

	// Vout is the output of the anchor the recipient's allocation is
	// sealed to.
	Vout uint32

	// Blob is the serialized consignment.
	Blob []byte
}

// ServerInfo describes the proxy server.
type ServerInfo struct {
	ProtocolVersion string `json:"protocol_version"`
	Version         string `json:"version"`
	Uptime          uint64 `json:"uptime"`
}

// Courier is the capability of exchanging consignments with a counterparty
// through an RGB proxy.
type Courier interface {
	// PostConsignment uploads a consignment for the given recipient.
	PostConsignment(ctx context.Context, recipientID string,
		consignment *Consignment) error

	// GetConsignment downloads the consignment posted for the given
	// recipient. ErrNotFound is returned if there is none yet.
	GetConsignment(ctx context.Context,
		recipientID string) (*Consignment, error)

	// GetAck returns the recipient's verdict on a consignment. Nil is
	// returned as long as the recipient hasn't decided yet.
	GetAck(ctx context.Context, recipientID string) (*bool, error)

	// PostAck publishes our verdict on a consignment we received.
	PostAck(ctx context.Context, recipientID string, ack bool) error

	// ServerInfo returns information about the proxy.
	ServerInfo(ctx context.Context) (*ServerInfo, error)
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// RPCError is the error object of a failed JSON-RPC call.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// Error returns the error message of the proxy.
func (e *RPCError) Error() string {
	return fmt.Sprintf("proxy error %d: %s", e.Code, e.Message)
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// recipientParams is the parameter object of all recipient scoped calls.
type recipientParams struct {
	RecipientID string `json:"recipient_id"`
}

// postConsignmentParams are the parameters of consignment.post.
type postConsignmentParams struct {
	RecipientID string `json:"recipient_id"`
	Txid        string `json:"txid"`
	Vout        uint32 `json:"vout"`
	Consignment string `json:"consignment"`
}

// consignmentResult is the result of consignment.get.
type consignmentResult struct {
	Consignment string `json:"consignment"`
	Txid        string `json:"txid"`
	Vout        uint32 `json:"vout"`
}

// postAckParams are the parameters of ack.post.
type postAckParams struct {
	RecipientID string `json:"recipient_id"`
	Ack         bool   `json:"ack"`
}

// HTTPClient is a Courier that talks to an RGB proxy over HTTP.
type HTTPClient struct {
	url string

	userAgent string

	httpClient *http.Client

	nextID atomic.Uint64
}

// NewHTTPClient creates a client for the proxy at the given URL. The user
// agent is optional.
func NewHTTPClient(proxyURL, userAgent string) (*HTTPClient, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported proxy url scheme %q",
			parsed.Scheme)
	}

	return &HTTPClient{
		url:       parsed.String(),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// call executes a single JSON-RPC call and decodes the result into result.
func (c *HTTPClient) call(ctx context.Context, method string,
	params interface{}, result interface{}) error {

	req := rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      fmt.Sprintf("%d", c.nextID.Add(1)),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.url, bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	log.Tracef("Calling proxy method %v", method)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("unable to reach proxy: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy returned status %v",
			httpResp.Status)
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("invalid proxy response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}

	return json.Unmarshal(resp.Result, result)
}

// PostConsignment uploads a consignment for the given recipient.
func (c *HTTPClient) PostConsignment(ctx context.Context, recipientID string,
	consignment *Consignment) error {

	var ok bool
	err := c.call(ctx, "consignment.post", &postConsignmentParams{
		RecipientID: recipientID,
		Txid:        consignment.Txid.String(),
		Vout:        consignment.Vout,
		Consignment: base64.StdEncoding.EncodeToString(
			consignment.Blob,
		),
	}, &ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proxy rejected consignment for %v",
			recipientID)
	}

	return nil
}

// GetConsignment downloads the consignment posted for the given recipient.
func (c *HTTPClient) GetConsignment(ctx context.Context,
	recipientID string) (*Consignment, error) {

	var result *consignmentResult
	err := c.call(ctx, "consignment.get", &recipientParams{
		RecipientID: recipientID,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, recipientID)
	}

	txid, err := chainhash.NewHashFromStr(result.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid consignment txid: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(result.Consignment)
	if err != nil {
		return nil, fmt.Errorf("invalid consignment encoding: %w", err)
	}

	return &Consignment{
		Txid: *txid,
		Vout: result.Vout,
		Blob: blob,
	}, nil
}

// GetAck returns the recipient's verdict on a consignment.
func (c *HTTPClient) GetAck(ctx context.Context,
	recipientID string) (*bool, error) {

	var ack *bool
	err := c.call(ctx, "ack.get", &recipientParams{
		RecipientID: recipientID,
	}, &ack)
	if err != nil {
		return nil, err
	}

	return ack, nil
}

// PostAck publishes our verdict on a consignment we received.
func (c *HTTPClient) PostAck(ctx context.Context, recipientID string,
	ack bool) error {

	return c.call(ctx, "ack.post", &postAckParams{
		RecipientID: recipientID,
		Ack:         ack,
	}, nil)
}

// ServerInfo returns information about the proxy.
func (c *HTTPClient) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.call(ctx, "server.info", nil, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// A compile-time assertion to ensure HTTPClient meets the Courier interface.
var _ Courier = (*HTTPClient)(nil)
