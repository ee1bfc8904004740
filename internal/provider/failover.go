package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bdagent/internal/domain"
)

// defaultCooldown is how long a provider that just failed is tried last.
const defaultCooldown = time.Minute

var errEmptyChain = errors.New("failover chain is empty")

type chainMember struct {
	provider domain.Provider
	failedAt time.Time
}

// FailoverProvider sends each request down an ordered chain of providers.
// A member that fails is moved behind the healthy ones for a cooldown, so a
// rate-limited primary does not cost a round trip on every question.
type FailoverProvider struct {
	mu       sync.Mutex
	members  []*chainMember
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	members := make([]*chainMember, len(providers))
	for i, p := range providers {
		members[i] = &chainMember{provider: p}
	}
	return &FailoverProvider{
		members:  members,
		cooldown: defaultCooldown,
		logger:   logger,
		now:      time.Now,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.members))
	for i, m := range fp.members {
		names[i] = m.provider.Name()
	}
	return "failover:" + strings.Join(names, ",")
}

// Healthy succeeds when any member is healthy.
func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	if len(fp.members) == 0 {
		return errEmptyChain
	}
	var errs []error
	for _, m := range fp.members {
		err := m.provider.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.provider.Name(), err))
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// Chat returns the first successful response. A cancelled context stops the
// chain; otherwise the last error is returned when every member fails.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	order := fp.order()
	if len(order) == 0 {
		return nil, errEmptyChain
	}

	var lastErr error
	for i, m := range order {
		memberReq := req
		if m != fp.members[0] {
			// A model override names a model of the primary; fallbacks use their own.
			memberReq.Model = ""
		}
		resp, err := m.provider.Chat(ctx, memberReq)
		if err == nil {
			fp.markHealthy(m)
			if i > 0 {
				fp.logger.Info("failover: answered by fallback provider", "provider", m.provider.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		fp.markFailed(m)
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", m.provider.Name(),
			"attempt", i+1,
			"cooldown", fp.cooldown,
			"error", err,
		)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// order lists members not cooling down first, each group in chain order.
func (fp *FailoverProvider) order() []*chainMember {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	now := fp.now()
	ready := make([]*chainMember, 0, len(fp.members))
	var cooling []*chainMember
	for _, m := range fp.members {
		if !m.failedAt.IsZero() && now.Sub(m.failedAt) < fp.cooldown {
			cooling = append(cooling, m)
			continue
		}
		ready = append(ready, m)
	}
	return append(ready, cooling...)
}

func (fp *FailoverProvider) markFailed(m *chainMember) {
	fp.mu.Lock()
	m.failedAt = fp.now()
	fp.mu.Unlock()
}

func (fp *FailoverProvider) markHealthy(m *chainMember) {
	fp.mu.Lock()
	m.failedAt = time.Time{}
	fp.mu.Unlock()
}
