package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Descriptor is one durable queue entry referencing an application.
type Descriptor struct {
	JobID         uuid.UUID
	ApplicationID uuid.UUID
	Attempt       int
	LeaseExpiry   time.Time
}

// Queue is a durable, at-least-once job queue with lease-based dequeue.
// A descriptor whose lease expires without Ack/Requeue becomes eligible
// again automatically; that is how crashed-worker recovery happens.
type Queue interface {
	// Enqueue appends a descriptor with attempt=0 and no lease held.
	Enqueue(ctx context.Context, applicationID uuid.UUID) (uuid.UUID, error)

	// Dequeue atomically claims one eligible descriptor, setting its lease
	// to now+lease and incrementing attempt. Returns (nil, nil) when no
	// descriptor becomes eligible within blockTimeout.
	Dequeue(ctx context.Context, lease, blockTimeout time.Duration) (*Descriptor, error)

	// Ack removes the descriptor permanently. Call only after the
	// application has reached a terminal status.
	Ack(ctx context.Context, jobID uuid.UUID) error

	// Requeue clears the lease and makes the descriptor eligible again no
	// earlier than now+delay. Used for transient-failure backoff.
	Requeue(ctx context.Context, jobID uuid.UUID, delay time.Duration) error

	// NackPermanent removes the descriptor after a non-retryable failure.
	// The application is already marked FAILED by the caller.
	NackPermanent(ctx context.Context, jobID uuid.UUID) error
}

// claimInterval is how often a blocked Dequeue re-checks for eligible work.
const claimInterval = 250 * time.Millisecond
