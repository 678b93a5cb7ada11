// Package planner talks to the route planning service: it starts routes,
// reports confirmed step hashes and fetches the next step to execute.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/httpx"
	"github.com/ggonzalez94/route-runner/internal/logging"
	"github.com/ggonzalez94/route-runner/internal/model"
	"go.uber.org/zap"
)

const (
	APIKeyHeader = "API-KEY"

	statusReady     = "ready"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type Client struct {
	http         *httpx.Client
	baseURL      string
	pollInterval time.Duration
	log          *zap.Logger
}

func New(httpClient *httpx.Client, baseURL string, pollInterval time.Duration, log *zap.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Client{
		http:         httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: pollInterval,
		log:          logging.OrNop(log),
	}
}

// BaseURL identifies the service, e.g. as a cache key.
func (c *Client) BaseURL() string { return c.baseURL }

type envelope[T any] struct {
	Success bool `json:"success"`
	Result  T    `json:"result"`
	Message any  `json:"message"`
}

type StartRouteRequest struct {
	FromChainID      int64           `json:"fromChainId"`
	ToChainID        int64           `json:"toChainId"`
	FromAssetAddress string          `json:"fromAssetAddress"`
	ToAssetAddress   string          `json:"toAssetAddress"`
	Sender           string          `json:"sender,omitempty"`
	Route            json.RawMessage `json:"route"`
}

// StartRoute registers a planned route with the service and returns it with
// its first step resolved.
func (c *Client) StartRoute(ctx context.Context, req StartRouteRequest) (model.Route, error) {
	if len(req.Route) == 0 {
		return model.Route{}, clierr.New(clierr.CodeUsage, "start route requires a planned route")
	}
	body, err := json.Marshal(struct {
		StartRouteRequest
		IncludeFirstTxDetails bool `json:"includeFirstTxDetails"`
	}{req, true})
	if err != nil {
		return model.Route{}, clierr.Wrap(clierr.CodeInternal, "encode start route request", err)
	}
	var resp envelope[model.StepDescriptor]
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/route/start", body, nil, &resp); err != nil {
		return model.Route{}, clierr.Wrap(clierr.CodePlanningService, "start route", err)
	}
	if !resp.Success {
		return model.Route{}, clierr.New(clierr.CodePlanningService, serviceMessage(resp.Message, "start route failed"))
	}
	first := resp.Result
	if first.ActiveRouteID == 0 {
		return model.Route{}, clierr.New(clierr.CodePlanningService, "start route response missing activeRouteId")
	}
	return model.Route{
		ActiveRouteID: first.ActiveRouteID,
		UserTxs:       []model.StepDescriptor{first},
		TotalUserTx:   first.TotalUserTx,
		FromChainID:   req.FromChainID,
		ToChainID:     req.ToChainID,
		Sender:        req.Sender,
	}, nil
}

// FetchNextStep reports confirmedHash for userTxIndex, waits until the service
// has observed it and returns the next step, or nil when the route is done.
// The next transaction is not built after the last of totalUserTx steps; a
// totalUserTx of zero leaves completion to the service.
// Repeating a call with the same arguments yields the same result.
func (c *Client) FetchNextStep(ctx context.Context, activeRouteID int64, userTxIndex, totalUserTx int, confirmedHash string) (*model.StepDescriptor, error) {
	hash := strings.TrimSpace(confirmedHash)
	if !txHashPattern.MatchString(hash) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid transaction hash %q", confirmedHash))
	}
	status, err := c.waitForStep(ctx, activeRouteID, userTxIndex, hash)
	if err != nil {
		return nil, err
	}
	if status == statusCompleted || (totalUserTx > 0 && userTxIndex+1 >= totalUserTx) {
		return nil, nil
	}

	vals := url.Values{}
	vals.Set("activeRouteId", strconv.FormatInt(activeRouteID, 10))
	var resp envelope[*model.StepDescriptor]
	if err := c.get(ctx, "/route/build-next-tx", vals, &resp); err != nil {
		return nil, clierr.Wrap(clierr.CodePlanningService, "build next transaction", err)
	}
	if !resp.Success {
		return nil, clierr.New(clierr.CodePlanningService, serviceMessage(resp.Message, "build next transaction failed"))
	}
	next := resp.Result
	if next == nil || next.UserTxIndex >= next.TotalUserTx {
		return nil, nil
	}
	if next.ActiveRouteID == 0 {
		next.ActiveRouteID = activeRouteID
	}
	return next, nil
}

func (c *Client) waitForStep(ctx context.Context, activeRouteID int64, userTxIndex int, hash string) (string, error) {
	vals := url.Values{}
	vals.Set("activeRouteId", strconv.FormatInt(activeRouteID, 10))
	vals.Set("userTxIndex", strconv.Itoa(userTxIndex))
	vals.Set("txHash", hash)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var resp envelope[string]
		if err := c.get(ctx, "/route/prepare", vals, &resp); err != nil {
			return "", clierr.Wrap(clierr.CodePlanningService, "submit step hash", err)
		}
		if !resp.Success {
			return "", clierr.New(clierr.CodePlanningService, serviceMessage(resp.Message, "submit step hash failed"))
		}
		status := strings.ToLower(strings.TrimSpace(resp.Result))
		switch status {
		case statusReady, statusCompleted:
			return status, nil
		case statusFailed:
			return "", clierr.New(clierr.CodePlanningService, fmt.Sprintf("route %d step %d reported failed by planning service", activeRouteID, userTxIndex))
		}
		c.log.Debug("waiting for planning service to observe step",
			zap.Int64("route_id", activeRouteID),
			zap.Int("step_index", userTxIndex),
			zap.String("status", status),
		)
		select {
		case <-ctx.Done():
			return "", clierr.Wrap(clierr.CodePlanningService, "wait for step status", ctx.Err())
		case <-ticker.C:
		}
	}
}

// SupportedChains lists chain metadata known to the service.
func (c *Client) SupportedChains(ctx context.Context) ([]model.ChainMetadata, error) {
	var resp envelope[[]model.ChainMetadata]
	if err := c.get(ctx, "/supported/chains", nil, &resp); err != nil {
		return nil, clierr.Wrap(clierr.CodePlanningService, "list supported chains", err)
	}
	if !resp.Success {
		return nil, clierr.New(clierr.CodePlanningService, serviceMessage(resp.Message, "list supported chains failed"))
	}
	return resp.Result, nil
}

func (c *Client) get(ctx context.Context, path string, vals url.Values, out any) error {
	target := c.baseURL + path
	if len(vals) > 0 {
		target += "?" + vals.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build planning service request", err)
	}
	_, err = c.http.DoJSON(ctx, req, out)
	return err
}

func serviceMessage(v any, fallback string) string {
	switch t := v.(type) {
	case string:
		if msg := strings.TrimSpace(t); msg != "" {
			return msg
		}
	case map[string]any:
		if msg, ok := t["error"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
		if msg, ok := t["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
	}
	return fallback
}
