package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

const nextTxJSON = `{"success":true,"result":{
	"userTxType":"fund-movr","txTarget":"0x3a23F943181408EAC424116Af7b7790c94Cb97a5",
	"chainId":8453,"txData":"0xdeadbeef","txType":"eth_sendTransaction","activeRouteId":77,
	"value":"0","userTxIndex":1,"totalUserTx":2,
	"approvalData":{"minimumApprovalAmount":"1000000","approvalTokenAddress":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"allowanceTarget":"0x3a23F943181408EAC424116Af7b7790c94Cb97a5","owner":"0x00000000000000000000000000000000000000aa","required":true}}}`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(httpx.New(2*time.Second, 0, httpx.WithHeader(APIKeyHeader, "test-key")), srv.URL+"/", 5*time.Millisecond, nil)
}

func TestStartRoute(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/route/start", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get(APIKeyHeader))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["includeFirstTxDetails"])
		assert.Equal(t, float64(1), body["fromChainId"])
		_, _ = fmt.Fprint(w, `{"success":true,"result":{"userTxType":"fund-movr","txTarget":"0x3a23F943181408EAC424116Af7b7790c94Cb97a5","chainId":1,"txData":"0x","activeRouteId":77,"value":"0","userTxIndex":0,"totalUserTx":2}}`)
	}))

	route, err := c.StartRoute(context.Background(), StartRouteRequest{
		FromChainID: 1,
		ToChainID:   8453,
		Route:       json.RawMessage(`{"routeId":"abc"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), route.ActiveRouteID)
	assert.Equal(t, 2, route.TotalUserTx)
	require.Len(t, route.UserTxs, 1)
	assert.Equal(t, 0, route.UserTxs[0].UserTxIndex)
}

func TestStartRouteRequiresRoute(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "http://127.0.0.1:1", time.Millisecond, nil)
	_, err := c.StartRoute(context.Background(), StartRouteRequest{})
	require.Error(t, err)
}

func TestFetchNextStepPollsUntilReady(t *testing.T) {
	var prepareCalls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/route/prepare":
			assert.Equal(t, "77", r.URL.Query().Get("activeRouteId"))
			assert.Equal(t, "0", r.URL.Query().Get("userTxIndex"))
			assert.Equal(t, testHash, r.URL.Query().Get("txHash"))
			if atomic.AddInt32(&prepareCalls, 1) < 3 {
				_, _ = fmt.Fprint(w, `{"success":true,"result":"pending"}`)
				return
			}
			_, _ = fmt.Fprint(w, `{"success":true,"result":"ready"}`)
		case "/route/build-next-tx":
			_, _ = fmt.Fprint(w, nextTxJSON)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	next, err := c.FetchNextStep(context.Background(), 77, 0, 2, testHash)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 1, next.UserTxIndex)
	assert.Equal(t, int64(8453), next.ChainID)
	require.NotNil(t, next.ApprovalData)
	assert.True(t, next.ApprovalData.Required)
	assert.Equal(t, "1000000", next.ApprovalData.Amount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&prepareCalls))
}

func TestFetchNextStepIsIdempotent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/route/prepare" {
			_, _ = fmt.Fprint(w, `{"success":true,"result":"ready"}`)
			return
		}
		_, _ = fmt.Fprint(w, nextTxJSON)
	}))
	first, err := c.FetchNextStep(context.Background(), 77, 0, 2, testHash)
	require.NoError(t, err)
	second, err := c.FetchNextStep(context.Background(), 77, 0, 2, testHash)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFetchNextStepCompletedRoute(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/route/prepare" {
			t.Errorf("did not expect %s after completion", r.URL.Path)
		}
		_, _ = fmt.Fprint(w, `{"success":true,"result":"completed"}`)
	}))
	next, err := c.FetchNextStep(context.Background(), 77, 1, 2, testHash)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestFetchNextStepLastStepSkipsBuild(t *testing.T) {
	var buildCalls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/route/prepare":
			assert.Equal(t, "1", r.URL.Query().Get("userTxIndex"))
			_, _ = fmt.Fprint(w, `{"success":true,"result":"ready"}`)
		case "/route/build-next-tx":
			atomic.AddInt32(&buildCalls, 1)
			_, _ = fmt.Fprint(w, `{"success":false,"message":"no pending user transaction"}`)
		}
	}))
	next, err := c.FetchNextStep(context.Background(), 77, 1, 2, testHash)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, int32(0), atomic.LoadInt32(&buildCalls))
}

func TestFetchNextStepUnknownTotalDefersToService(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/route/prepare" {
			_, _ = fmt.Fprint(w, `{"success":true,"result":"ready"}`)
			return
		}
		_, _ = fmt.Fprint(w, nextTxJSON)
	}))
	next, err := c.FetchNextStep(context.Background(), 77, 0, 0, testHash)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 1, next.UserTxIndex)
}

func TestFetchNextStepFailedStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"success":true,"result":"failed"}`)
	}))
	_, err := c.FetchNextStep(context.Background(), 77, 0, 2, testHash)
	require.Error(t, err)
	assert.True(t, clierr.IsPlanningService(err))
}

func TestFetchNextStepServiceErrorIsPlanningServiceError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := c.FetchNextStep(context.Background(), 77, 0, 2, testHash)
	require.Error(t, err)
	assert.True(t, clierr.IsPlanningService(err))
	assert.True(t, clierr.HasCode(err, clierr.CodeUnavailable))
}

func TestFetchNextStepRejectsMalformedHash(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "http://127.0.0.1:1", time.Millisecond, nil)
	_, err := c.FetchNextStep(context.Background(), 77, 0, 2, "0x1234")
	require.Error(t, err)
	typed, ok := clierr.As(err)
	require.True(t, ok)
	assert.Equal(t, clierr.CodeUsage, typed.Code)
}

func TestFetchNextStepHonoursCancellation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"success":true,"result":"pending"}`)
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.FetchNextStep(ctx, 77, 0, 2, testHash)
	require.Error(t, err)
	assert.True(t, clierr.IsPlanningService(err))
}

func TestSupportedChains(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/supported/chains", r.URL.Path)
		_, _ = fmt.Fprint(w, `{"success":true,"result":[{"chainId":999,"name":"HyperEVM","icon":"https://icons/h.svg","currency":{"name":"HYPE","symbol":"HYPE","decimals":18},"rpcs":["https://rpc.hyperliquid.xyz/evm"],"explorers":[]}]}`)
	}))
	chains, err := c.SupportedChains(context.Background())
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, int64(999), chains[0].ChainID)
	assert.Equal(t, "HYPE", chains[0].Currency.Symbol)
}

func TestServiceMessage(t *testing.T) {
	assert.Equal(t, "boom", serviceMessage("boom", "x"))
	assert.Equal(t, "bad route", serviceMessage(map[string]any{"error": "bad route"}, "x"))
	assert.Equal(t, "x", serviceMessage(nil, "x"))
	assert.True(t, strings.HasPrefix(serviceMessage(map[string]any{}, "fallback"), "fallback"))
}
