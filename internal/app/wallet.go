package app

import (
	"context"

	"github.com/ggonzalez94/route-runner/internal/config"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/execution"
	"github.com/ggonzalez94/route-runner/internal/wallet"
	"github.com/ggonzalez94/route-runner/internal/wallet/signer"
	"go.uber.org/zap"
)

// walletOpener returns the wallet and a func releasing its connections.
// resolver supplies chain metadata for wallets that need per-chain endpoints.
type walletOpener func(ctx context.Context, settings config.Settings, resolver wallet.ChainResolver, privateKey string, log *zap.Logger) (execution.Wallet, func(), error)

func openConfiguredWallet(ctx context.Context, settings config.Settings, resolver wallet.ChainResolver, privateKey string, log *zap.Logger) (execution.Wallet, func(), error) {
	opts := wallet.SendOptions{
		PollInterval:       settings.ConfirmPoll,
		ConfirmTimeout:     settings.ConfirmTimeout,
		GasMultiplier:      settings.GasMultiplier,
		MaxFeeGwei:         settings.MaxFeeGwei,
		MaxPriorityFeeGwei: settings.MaxPriorityFeeGwei,
	}
	if settings.WalletMode == config.WalletModeExternal {
		if privateKey != "" {
			return nil, nil, clierr.New(clierr.CodeUsage, "--private-key cannot be used with an external wallet")
		}
		w, err := wallet.DialBrowserWallet(ctx, settings.WalletRPCURL, opts, log,
			wallet.WithReceiptSource(resolver, settings.RPCOverrides),
		)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	}

	txSigner, err := signer.Open(settings.KeySource, privateKey)
	if err != nil {
		return nil, nil, err
	}
	w := wallet.NewRPCWallet(txSigner, settings.RPCOverrides,
		wallet.WithSendOptions(opts),
		wallet.WithRPCLogger(log),
	)
	log.Info("local wallet ready", zap.String("address", w.Address().Hex()))
	return w, w.Close, nil
}
