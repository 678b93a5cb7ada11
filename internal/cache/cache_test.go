package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/route-runner/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChains() []model.ChainMetadata {
	return []model.ChainMetadata{{
		ChainID:   8453,
		Name:      "Base",
		Currency:  model.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		RPCs:      []string{"https://mainnet.base.org"},
		Explorers: []string{"https://basescan.org"},
	}}
}

func TestChainsFreshAndExpired(t *testing.T) {
	store := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	if err := store.PutChains("planner", testChains(), time.Minute); err != nil {
		t.Fatalf("PutChains failed: %v", err)
	}
	got, err := store.GetChains("planner")
	if err != nil {
		t.Fatalf("GetChains failed: %v", err)
	}
	if !got.Hit || got.Expired || len(got.Chains) != 1 || got.Chains[0].ChainID != 8453 {
		t.Fatalf("expected fresh hit, got %+v", got)
	}

	now = now.Add(2 * time.Minute)
	got, err = store.GetChains("planner")
	if err != nil {
		t.Fatalf("GetChains failed: %v", err)
	}
	if !got.Hit || !got.Expired {
		t.Fatalf("expected expired hit, got %+v", got)
	}
}

func TestChainsMiss(t *testing.T) {
	store := openTestStore(t)
	got, err := store.GetChains("nothing")
	if err != nil {
		t.Fatalf("GetChains failed: %v", err)
	}
	if got.Hit {
		t.Fatalf("expected miss, got %+v", got)
	}
}

func TestPruneDropsLongExpiredLists(t *testing.T) {
	store := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	if err := store.PutChains("planner", testChains(), time.Second); err != nil {
		t.Fatalf("PutChains failed: %v", err)
	}
	now = now.Add(time.Hour)
	if err := store.Prune(time.Minute); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	got, _ := store.GetChains("planner")
	if got.Hit {
		t.Fatal("expected pruned entry to be gone")
	}
}

func TestCacheConcurrentOpenAndPut(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "cache.db")
	lockPath := filepath.Join(tmp, "cache.lock")

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()
			for i := 0; i < 10; i++ {
				if err := store.PutChains(fmt.Sprintf("src-%d", workerID), testChains(), time.Minute); err != nil {
					errCh <- fmt.Errorf("worker %d put: %w", workerID, err)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
