// Package chains resolves chain ids to the metadata a wallet needs to add or
// switch networks.
package chains

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/route-runner/internal/cache"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/logging"
	"github.com/ggonzalez94/route-runner/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source lists the chains a planning service supports.
type Source interface {
	SupportedChains(ctx context.Context) ([]model.ChainMetadata, error)
}

type Registry struct {
	mu     sync.RWMutex
	chains map[int64]model.ChainMetadata
	loaded bool

	source   Source
	store    *cache.Store
	cacheKey string
	ttl      time.Duration
	group    singleflight.Group
	log      *zap.Logger
}

type Option func(*Registry)

// WithSource enables lazy loading of chains missing from the local table.
// key identifies the source in the on-disk cache; store may be nil.
func WithSource(src Source, store *cache.Store, key string, ttl time.Duration) Option {
	return func(r *Registry) {
		r.source = src
		r.store = store
		r.cacheKey = key
		r.ttl = ttl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = logging.OrNop(l) }
}

// WithoutDefaults starts from an empty table.
func WithoutDefaults() Option {
	return func(r *Registry) { r.chains = map[int64]model.ChainMetadata{} }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		chains: make(map[int64]model.ChainMetadata, len(defaultChains)),
		ttl:    6 * time.Hour,
		log:    zap.NewNop(),
	}
	for _, c := range defaultChains {
		r.chains[c.ChainID] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces chain metadata.
func (r *Registry) Register(meta model.ChainMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[meta.ChainID] = meta
}

// Resolve fails with an unknown-chain error when no table or source knows chainID.
func (r *Registry) Resolve(ctx context.Context, chainID int64) (model.ChainMetadata, error) {
	if meta, ok := r.lookup(chainID); ok {
		return meta, nil
	}
	if r.source != nil && !r.isLoaded() {
		if err := r.load(ctx); err != nil {
			return model.ChainMetadata{}, clierr.Wrap(clierr.CodeUnknownChain, fmt.Sprintf("resolve chain %d", chainID), err)
		}
		if meta, ok := r.lookup(chainID); ok {
			return meta, nil
		}
	}
	return model.ChainMetadata{}, clierr.New(clierr.CodeUnknownChain, fmt.Sprintf("unknown chain id %d", chainID))
}

func (r *Registry) lookup(chainID int64) (model.ChainMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.chains[chainID]
	return meta, ok
}

func (r *Registry) isLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func (r *Registry) load(ctx context.Context) error {
	_, err, _ := r.group.Do("load", func() (any, error) {
		if r.isLoaded() {
			return nil, nil
		}
		chains, err := r.fetch(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		for _, c := range chains {
			if c.ChainID > 0 {
				r.chains[c.ChainID] = c
			}
		}
		r.loaded = true
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

func (r *Registry) fetch(ctx context.Context) ([]model.ChainMetadata, error) {
	var cached cache.ChainList
	if r.store != nil {
		var err error
		cached, err = r.store.GetChains(r.cacheKey)
		if err != nil {
			r.log.Warn("read chain cache", zap.Error(err))
		}
		if cached.Hit && !cached.Expired {
			return cached.Chains, nil
		}
	}

	chains, err := r.source.SupportedChains(ctx)
	if err != nil {
		if cached.Hit {
			r.log.Warn("chain source unavailable; using expired cache",
				zap.Duration("age", cached.Age),
				zap.Error(err),
			)
			return cached.Chains, nil
		}
		return nil, err
	}
	if r.store != nil {
		if err := r.store.PutChains(r.cacheKey, chains, r.ttl); err != nil {
			r.log.Warn("write chain cache", zap.Error(err))
		}
	}
	return chains, nil
}

// AddChainParams builds the wallet_addEthereumChain payload for meta.
func AddChainParams(meta model.ChainMetadata) model.AddChainParams {
	params := model.AddChainParams{
		ChainID:           hexutil.EncodeUint64(uint64(meta.ChainID)),
		ChainName:         meta.Name,
		NativeCurrency:    meta.Currency,
		RPCURLs:           meta.RPCs,
		BlockExplorerURLs: meta.Explorers,
	}
	if icon := strings.TrimSpace(meta.Icon); icon != "" {
		params.IconURLs = []string{icon}
	}
	return params
}

// RPCURL picks the override for chainID, falling back to the first metadata RPC.
func RPCURL(overrides map[int64]string, meta model.ChainMetadata) (string, error) {
	if v := strings.TrimSpace(overrides[meta.ChainID]); v != "" {
		return v, nil
	}
	for _, rpc := range meta.RPCs {
		if v := strings.TrimSpace(rpc); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("no rpc configured for chain id %d", meta.ChainID)
}
