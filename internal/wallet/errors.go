package wallet

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
)

// EIP-1193 / EIP-3326 provider error codes.
const (
	codeUserRejected      = 4001
	codeUnauthorized      = 4100
	codeUnrecognizedChain = 4902
)

// mapProviderError converts a wallet JSON-RPC error into a typed error.
func mapProviderError(message string, err error) error {
	if err == nil {
		return nil
	}
	switch providerErrorCode(err) {
	case codeUnrecognizedChain:
		return clierr.Wrap(clierr.CodeUnrecognizedChain, message, err)
	case codeUserRejected:
		return clierr.Wrap(clierr.CodeWalletRejected, message, err)
	case codeUnauthorized:
		return clierr.Wrap(clierr.CodeAuth, message, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "unrecognized chain") {
		return clierr.Wrap(clierr.CodeUnrecognizedChain, message, err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, message, err)
}

// providerErrorCode reads the error code, looking through the
// originalError wrapper some mobile wallets put in the error data.
func providerErrorCode(err error) int {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(map[string]any); ok {
			if original, ok := data["originalError"].(map[string]any); ok {
				if code, ok := original["code"].(float64); ok {
					return int(code)
				}
			}
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	return 0
}
