package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/shopspring/decimal"
)

type tipSuggester interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

func resolveTipCap(ctx context.Context, client tipSuggester, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse max priority fee", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse max fee", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "max fee must be >= max priority fee")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("value must be non-negative")
	}
	wei := d.Shift(9)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return wei.BigInt(), nil
}

func applyGasMultiplier(gas uint64, multiplier float64) uint64 {
	if multiplier <= 1 {
		return gas
	}
	return uint64(float64(gas) * multiplier)
}
