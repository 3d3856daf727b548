package executor

import (
	"context"

	"github.com/arjunmehta/pipeworks/internal/storage"
)

// storeHandle adapts a storage.Store to the narrow registry.StateHandle
// interface plugins are given, namespacing every key under the owning run.
type storeHandle struct {
	store storage.Store
	runID string
}

func newStoreHandle(store storage.Store, runID string) *storeHandle {
	return &storeHandle{store: store, runID: runID}
}

func (h *storeHandle) key(k string) string {
	return "run:" + h.runID + ":var:" + k
}

func (h *storeHandle) Get(ctx context.Context, key string) (string, bool, error) {
	return h.store.Get(ctx, h.key(key))
}

func (h *storeHandle) Set(ctx context.Context, key, value string) error {
	return h.store.Set(ctx, h.key(key), value)
}
