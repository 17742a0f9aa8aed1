package notify

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"lifeconnect/pkg/domain"
)

// Scheduler tracks response deadlines for notified donors. Entries are
// advisory: the reaper's release is still guarded by the donor's status, so a
// stale deadline for a donor who already accepted, declined, or was
// re-notified is harmless.
type Scheduler interface {
	// Schedule arms (or re-arms) the deadline for a donor.
	Schedule(ctx context.Context, id domain.DonorID, deadline time.Time) error
	// Cancel drops a donor's deadline if one is armed.
	Cancel(ctx context.Context, id domain.DonorID) error
	// Due removes and returns every donor whose deadline is at or before
	// now.
	Due(ctx context.Context, now time.Time) ([]domain.DonorID, error)
}

// MemoryScheduler keeps deadlines in process memory.
type MemoryScheduler struct {
	mu        sync.Mutex
	deadlines map[domain.DonorID]time.Time
}

// NewMemoryScheduler creates an empty scheduler.
func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{deadlines: make(map[domain.DonorID]time.Time)}
}

func (s *MemoryScheduler) Schedule(_ context.Context, id domain.DonorID, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[id] = deadline
	return nil
}

func (s *MemoryScheduler) Cancel(_ context.Context, id domain.DonorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, id)
	return nil
}

func (s *MemoryScheduler) Due(_ context.Context, now time.Time) ([]domain.DonorID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.DonorID
	for id, deadline := range s.deadlines {
		if !deadline.After(now) {
			due = append(due, id)
			delete(s.deadlines, id)
		}
	}
	return due, nil
}

const deadlineKey = "lifeconnect:notify_deadlines"

// RedisScheduler keeps deadlines in a Redis sorted set scored by Unix time,
// so deadlines survive restarts and are shared across server instances.
type RedisScheduler struct {
	client *redis.Client
}

// NewRedisScheduler wraps a connected client.
func NewRedisScheduler(client *redis.Client) *RedisScheduler {
	return &RedisScheduler{client: client}
}

func (s *RedisScheduler) Schedule(ctx context.Context, id domain.DonorID, deadline time.Time) error {
	return s.client.ZAdd(ctx, deadlineKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: id.String(),
	}).Err()
}

func (s *RedisScheduler) Cancel(ctx context.Context, id domain.DonorID) error {
	return s.client.ZRem(ctx, deadlineKey, id.String()).Err()
}

func (s *RedisScheduler) Due(ctx context.Context, now time.Time) ([]domain.DonorID, error) {
	max := strconv.FormatInt(now.Unix(), 10)
	members, err := s.client.ZRangeByScore(ctx, deadlineKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	removeArgs := make([]any, len(members))
	due := make([]domain.DonorID, 0, len(members))
	for i, m := range members {
		removeArgs[i] = m
		id, err := domain.ParseDonorID(m)
		if err != nil {
			// Malformed member; removed below, nothing to release.
			continue
		}
		due = append(due, id)
	}
	if err := s.client.ZRem(ctx, deadlineKey, removeArgs...).Err(); err != nil {
		return nil, err
	}
	return due, nil
}
