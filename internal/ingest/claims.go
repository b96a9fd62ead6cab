package ingest

import (
	"context"
	"sync"
)

// Claims is the fingerprint register. Claim is an insert-if-absent: the
// first caller for a fingerprint becomes the canonical owner, every later
// caller gets the canonical tip ID back with fresh=false. Implementations
// must make the insert atomic so two concurrent submissions of the same
// payload can never both win.
type Claims interface {
	Claim(ctx context.Context, fingerprint, tipID string) (canonicalID string, fresh bool, err error)
	// Release undoes a claim that never reached the queue. It only removes
	// the entry when tipID still owns it.
	Release(ctx context.Context, fingerprint, tipID string) error
}

// MemoryClaims is the in-process fingerprint register used in memory mode
// and in tests.
type MemoryClaims struct {
	mu     sync.Mutex
	byHash map[string]string
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{byHash: make(map[string]string)}
}

func (c *MemoryClaims) Claim(_ context.Context, fingerprint, tipID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if canonical, ok := c.byHash[fingerprint]; ok {
		return canonical, false, nil
	}
	c.byHash[fingerprint] = tipID
	return tipID, true, nil
}

func (c *MemoryClaims) Release(_ context.Context, fingerprint, tipID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byHash[fingerprint] == tipID {
		delete(c.byHash, fingerprint)
	}
	return nil
}

// Reset drops every claim. Test environments only.
func (c *MemoryClaims) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHash = make(map[string]string)
}
