package execution

import (
	"context"
	"strings"
	"sync"
)

var walletNetworkLocks sync.Map

// acquireWalletNetworkLock serializes network switches and submissions per
// wallet connection. The current network of a wallet is shared by every route
// running against it.
func acquireWalletNetworkLock(ctx context.Context, walletID string) (func(), error) {
	key := strings.ToLower(strings.TrimSpace(walletID))
	v, _ := walletNetworkLocks.LoadOrStore(key, make(chan struct{}, 1))
	sem := v.(chan struct{})
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-sem }) }, nil
}
