package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// fakeProxy is an in-memory RGB proxy server.
type fakeProxy struct {
	t *testing.T

	mu           sync.Mutex
	consignments map[string]consignmentResult
	acks         map[string]bool
	userAgents   []string
}

func newFakeProxy(t *testing.T) (*fakeProxy, *HTTPClient) {
	p := &fakeProxy{
		t:            t,
		consignments: make(map[string]consignmentResult),
		acks:         make(map[string]bool),
	}

	server := httptest.NewServer(p)
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(server.URL+"/json-rpc", "rgbld/test")
	require.NoError(t, err)

	return p, client
}

func (p *fakeProxy) reply(w http.ResponseWriter, id string,
	result interface{}, rpcErr *RPCError) {

	resp := struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      string      `json:"id"`
		Result  interface{} `json:"result"`
		Error   *RPCError   `json:"error,omitempty"`
	}{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  result,
		Error:   rpcErr,
	}

	w.Header().Set("Content-Type", "application/json")
	require.NoError(p.t, json.NewEncoder(w).Encode(resp))
}

func (p *fakeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.userAgents = append(p.userAgents, r.UserAgent())

	switch req.Method {
	case "server.info":
		p.reply(w, req.ID, &ServerInfo{
			ProtocolVersion: "0.2",
			Version:         "0.2.1",
			Uptime:          42,
		}, nil)

	case "consignment.post":
		var params postConsignmentParams
		require.NoError(p.t, json.Unmarshal(req.Params, &params))

		if _, ok := p.consignments[params.RecipientID]; ok {
			p.reply(w, req.ID, nil, &RPCError{
				Code:    -101,
				Message: "recipient ID already used",
			})
			return
		}
		p.consignments[params.RecipientID] = consignmentResult{
			Consignment: params.Consignment,
			Txid:        params.Txid,
			Vout:        params.Vout,
		}
		p.reply(w, req.ID, true, nil)

	case "consignment.get":
		var params recipientParams
		require.NoError(p.t, json.Unmarshal(req.Params, &params))

		c, ok := p.consignments[params.RecipientID]
		if !ok {
			p.reply(w, req.ID, nil, nil)
			return
		}
		p.reply(w, req.ID, &c, nil)

	case "ack.get":
		var params recipientParams
		require.NoError(p.t, json.Unmarshal(req.Params, &params))

		ack, ok := p.acks[params.RecipientID]
		if !ok {
			p.reply(w, req.ID, nil, nil)
			return
		}
		p.reply(w, req.ID, ack, nil)

	case "ack.post":
		var params postAckParams
		require.NoError(p.t, json.Unmarshal(req.Params, &params))

		p.acks[params.RecipientID] = params.Ack
		p.reply(w, req.ID, true, nil)

	default:
		http.Error(w, "unknown method", http.StatusNotFound)
	}
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		url       string
		expectErr bool
	}{{
		name: "http",
		url:  "http://proxy.example.com/json-rpc",
	}, {
		name: "https",
		url:  "https://proxy.example.com/json-rpc",
	}, {
		name:      "rpc scheme",
		url:       "rpc://proxy.example.com",
		expectErr: true,
	}, {
		name:      "garbage",
		url:       "http://[::1",
		expectErr: true,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewHTTPClient(tc.url, "")
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestHTTPClient(t *testing.T) {
	t.Parallel()

	p, client := newFakeProxy(t)
	ctx := context.Background()

	info, err := client.ServerInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, "0.2", info.ProtocolVersion)
	require.EqualValues(t, 42, info.Uptime)

	_, err = client.GetConsignment(ctx, "chan-1")
	require.ErrorIs(t, err, ErrNotFound)

	consignment := &Consignment{
		Txid: chainhash.Hash{1, 2, 3},
		Vout: 1,
		Blob: []byte("consignment"),
	}
	require.NoError(t, client.PostConsignment(ctx, "chan-1", consignment))

	fetched, err := client.GetConsignment(ctx, "chan-1")
	require.NoError(t, err)
	require.Equal(t, consignment, fetched)

	// A recipient ID can only be used once.
	err = client.PostConsignment(ctx, "chan-1", consignment)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.EqualValues(t, -101, rpcErr.Code)

	ack, err := client.GetAck(ctx, "chan-1")
	require.NoError(t, err)
	require.Nil(t, ack)

	require.NoError(t, client.PostAck(ctx, "chan-1", false))
	ack, err = client.GetAck(ctx, "chan-1")
	require.NoError(t, err)
	require.NotNil(t, ack)
	require.False(t, *ack)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, userAgent := range p.userAgents {
		require.Equal(t, "rgbld/test", userAgent)
	}
}

func TestHTTPClientStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	))
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(server.URL, "")
	require.NoError(t, err)

	_, err = client.ServerInfo(context.Background())
	require.ErrorContains(t, err, "502")
}
