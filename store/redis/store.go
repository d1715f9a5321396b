package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/id"
	"github.com/xraph/cohort/store"
)

var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNamespace scopes every key under ns so several coordinators can share
// one Redis.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.prefix = keyPrefix + ns + ":"
		}
	}
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
	prefix string
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), prefix: keyPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// RegisterMember adds or replaces a member record.
func (s *Store) RegisterMember(ctx context.Context, m *cluster.Member) error {
	key := s.memberKey(m.Endpoint)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, memberToMap(m))
	pipe.ZAdd(ctx, s.membersKey(), goredis.Z{Score: float64(m.Rank), Member: m.Endpoint})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cohort/redis: register member: %w", err)
	}
	return nil
}

// UpdateState moves a member to state. Leaving states stamp left_at.
func (s *Store) UpdateState(ctx context.Context, ep string, state cluster.MemberState, reason string) error {
	key := s.memberKey(ep)
	if err := s.mustExist(ctx, key); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	fields := []any{"state", string(state), "last_seen", now}
	if reason != "" {
		fields = append(fields, "reason", reason)
	}
	if state.Terminal() {
		fields = append(fields, "left_at", now)
	}
	if err := s.client.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("cohort/redis: update state: %w", err)
	}
	return nil
}

// TouchMember updates the last-seen timestamp for a member.
func (s *Store) TouchMember(ctx context.Context, ep string) error {
	key := s.memberKey(ep)
	if err := s.mustExist(ctx, key); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, key, "last_seen", time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("cohort/redis: touch member: %w", err)
	}
	return nil
}

// GetMember returns the member at ep.
func (s *Store) GetMember(ctx context.Context, ep string) (*cluster.Member, error) {
	vals, err := s.client.HGetAll(ctx, s.memberKey(ep)).Result()
	if err != nil {
		return nil, fmt.Errorf("cohort/redis: get member: %w", err)
	}
	if len(vals) == 0 {
		return nil, cluster.ErrMemberNotFound
	}
	return mapToMember(vals)
}

// ListMembers returns all members ordered by rank.
func (s *Store) ListMembers(ctx context.Context) ([]*cluster.Member, error) {
	eps, err := s.client.ZRange(ctx, s.membersKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cohort/redis: list members: %w", err)
	}

	members := make([]*cluster.Member, 0, len(eps))
	for _, ep := range eps {
		vals, getErr := s.client.HGetAll(ctx, s.memberKey(ep)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		m, convErr := mapToMember(vals)
		if convErr != nil {
			s.logger.Warn("skipping unreadable member", slog.String("endpoint", ep), slog.String("error", convErr.Error()))
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

// ReapSilentMembers returns active members whose last-seen timestamp is
// older than threshold.
func (s *Store) ReapSilentMembers(ctx context.Context, threshold time.Duration) ([]*cluster.Member, error) {
	members, err := s.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-threshold)
	var silent []*cluster.Member
	for _, m := range members {
		if m.State == cluster.MemberActive && m.LastSeen.Before(cutoff) {
			silent = append(silent, m)
		}
	}
	return silent, nil
}

func (s *Store) mustExist(ctx context.Context, key string) error {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cohort/redis: exists: %w", err)
	}
	if n == 0 {
		return cluster.ErrMemberNotFound
	}
	return nil
}

// ── helpers ──

func memberToMap(m *cluster.Member) map[string]any {
	out := map[string]any{
		"id":        m.ID.String(),
		"endpoint":  m.Endpoint,
		"rank":      strconv.Itoa(m.Rank),
		"ordinal":   strconv.Itoa(m.Ordinal),
		"state":     string(m.State),
		"reason":    m.Reason,
		"joined_at": m.JoinedAt.Format(time.RFC3339Nano),
		"last_seen": m.LastSeen.Format(time.RFC3339Nano),
	}
	if m.LeftAt != nil {
		out["left_at"] = m.LeftAt.Format(time.RFC3339Nano)
	}
	return out
}

func mapToMember(m map[string]string) (*cluster.Member, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("cohort/redis: parse worker id: %w", err)
	}

	rank, _ := strconv.Atoi(m["rank"])                          //nolint:errcheck // best-effort parse from trusted Redis data
	ordinal, _ := strconv.Atoi(m["ordinal"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	joinedAt, _ := time.Parse(time.RFC3339Nano, m["joined_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"]) //nolint:errcheck // best-effort parse from trusted Redis data

	mem := &cluster.Member{
		ID:       wID,
		Endpoint: m["endpoint"],
		Rank:     rank,
		Ordinal:  ordinal,
		State:    cluster.MemberState(m["state"]),
		Reason:   m["reason"],
		JoinedAt: joinedAt,
		LastSeen: lastSeen,
	}
	if v := m["left_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		mem.LeftAt = &t
	}
	return mem, nil
}
