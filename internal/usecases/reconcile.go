package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/practice-sem-2/group-chat-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Reconciler repairs the chat projection of groups whose group and chat
// records were written separately and may have diverged. The group record
// is authoritative. Repairs are idempotent, so a group may be reconciled
// any number of times.
type Reconciler struct {
	base

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewReconciler(d Deps) *Reconciler {
	return &Reconciler{
		base:    newBase(d),
		pending: map[string]struct{}{},
	}
}

// Mark queues a group for the next sweep.
func (r *Reconciler) Mark(groupID string) {
	r.mu.Lock()
	r.pending[groupID] = struct{}{}
	r.mu.Unlock()
	r.logger.WithField("group_id", groupID).Warn("group queued for reconciliation")
}

func (r *Reconciler) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Reconciler) unmark(groupID string) {
	r.mu.Lock()
	delete(r.pending, groupID)
	r.mu.Unlock()
}

// ReconcileGroup recomputes the chat's participants, name and active flag
// from the group and brings reverse indexes in line with membership.
func (r *Reconciler) ReconcileGroup(ctx context.Context, groupID string) bool {
	fields := logrus.Fields{"group_id": groupID}
	if err := r.reconcile(ctx, groupID); err != nil {
		r.fail("reconcile group", fields, err)
		return false
	}
	r.unmark(groupID)
	r.logger.WithFields(fields).Debug("group reconciled")
	return true
}

func (r *Reconciler) reconcile(ctx context.Context, groupID string) error {
	g, err := r.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}

	chat, err := r.loadChat(ctx, groupID)
	if errors.Is(err, ErrChatNotFound) {
		chat = models.NewChat(g.GroupID, g.GroupName, g.CreatedBy, nil, g.CreatedAt)
	} else if err != nil {
		return err
	}

	stale := make([]string, 0)
	for _, p := range chat.Participants {
		if !g.IsMember(p) {
			stale = append(stale, p)
		}
	}

	chat.SetParticipants(g.Members)
	chat.ChatName = g.GroupName
	chat.IsActive = g.IsActive

	err = r.bridge.Update(ctx, chatPath(groupID), map[string]interface{}{
		"chatId":       chat.ChatID,
		"participants": chat.Participants,
		"chatName":     chat.ChatName,
		"createdBy":    chat.CreatedBy,
		"createdAt":    models.Millis(chat.CreatedAt),
		"isActive":     chat.IsActive,
		"unreadCount":  chat.UnreadCount,
		"lastReadTime": chat.LastReadTime,
		"typing":       chat.Typing,
	})
	if err != nil {
		return fmt.Errorf("can't repair chat projection: %w", err)
	}

	if err := r.index(ctx, groupID, true, g.Members...); err != nil {
		return fmt.Errorf("can't repair reverse index: %w", err)
	}
	if len(stale) > 0 {
		if err := r.unindex(ctx, groupID, stale...); err != nil {
			return fmt.Errorf("can't drop stale reverse index: %w", err)
		}
	}
	return nil
}

// Sweep reconciles every queued group once and returns how many were
// repaired.
func (r *Reconciler) Sweep(ctx context.Context) int {
	repaired := 0
	for _, id := range r.Pending() {
		if ctx.Err() != nil {
			break
		}
		if r.ReconcileGroup(ctx, id) {
			repaired++
		}
	}
	return repaired
}

// Run sweeps on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.logger.WithField("repaired", n).Info("reconciliation sweep finished")
			}
		}
	}
}
