// Package tasks implements the account-scoped task list service.
//
// Each account owns a single append-only list of task strings. Mutations are
// broadcast to every live watcher of the account through the store's
// publish/subscribe capability, so all of an account's connected devices
// converge on the same list without polling.
package tasks

import (
	"context"
	"encoding/json"

	"github.com/lmorandi/taskline/internal/logger"
	"github.com/lmorandi/taskline/pkg/store"
)

// Service exposes task list operations scoped to an account. It owns the
// mapping from account identifiers to store keys; callers never touch raw
// keys.
type Service struct {
	store store.Store
}

// NewService creates a task service backed by the given store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// List returns the account's tasks in append order. A brand-new account has
// an empty list, not an error.
func (svc *Service) List(ctx context.Context, accountID string) ([]string, error) {
	return svc.store.ReadList(ctx, store.TasksKey(accountID))
}

// Add broadcasts the new items to the account's watchers and then appends
// them to the stored list.
//
// The broadcast is fire-and-forget: a failed publish is logged and dropped,
// and the returned error reflects only the durable append. This mirrors the
// delivery guarantee of the live feed itself, which is best-effort.
func (svc *Service) Add(ctx context.Context, accountID string, items []string) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}

	if err := svc.store.Publish(ctx, store.ChannelName(accountID), payload); err != nil {
		logger.Warn("tasks: broadcast for account %s failed: %v", accountID, err)
	}

	return svc.store.Append(ctx, store.TasksKey(accountID), items...)
}

// Watch opens a live feed of the account's task broadcasts. Every payload on
// the subscription channel is the JSON-encoded batch of items from one Add
// call, in the encoding produced by Add.
//
// The subscription must be closed when the watcher goes away; otherwise the
// store keeps fanning out to it forever.
func (svc *Service) Watch(ctx context.Context, accountID string) (store.Subscription, error) {
	return svc.store.Subscribe(ctx, store.ChannelName(accountID))
}
