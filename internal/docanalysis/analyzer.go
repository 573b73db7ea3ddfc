// Package docanalysis defines the document-analysis capability the
// pipeline calls: submit a stored document, poll the provider job, and
// page through positioned text fragments.
package docanalysis

import (
	"context"

	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/grouping"
)

// JobState is the provider-side status of an analysis job.
type JobState string

const (
	StatePending JobState = "PENDING"
	StateDone    JobState = "DONE"
	StateFailed  JobState = "FAILED"
)

// PollResult reports the provider job state; Message carries the
// provider's failure detail when State is FAILED.
type PollResult struct {
	State   JobState
	Message string
}

// Page is one page of analysis results. NextToken is non-empty while more
// pages remain.
type Page struct {
	Fragments []grouping.Fragment
	NextToken string
}

// Analyzer is the capability interface over a layout-analysis provider.
// Implementations classify their own failures (transient vs permanent)
// via common.ClassifiedError.
type Analyzer interface {
	Submit(ctx context.Context, storageRef string) (jobHandle string, err error)
	Poll(ctx context.Context, jobHandle string) (PollResult, error)
	FetchPage(ctx context.Context, jobHandle, continuationToken string) (Page, error)
}

// NoopAnalyzer rejects every submission. It stands in when no analysis
// provider is configured so the rest of the service can still run.
type NoopAnalyzer struct{}

func (NoopAnalyzer) Submit(context.Context, string) (string, error) {
	return "", common.Permanent("document-analysis", "no analysis provider configured", nil)
}

func (NoopAnalyzer) Poll(context.Context, string) (PollResult, error) {
	return PollResult{}, common.Permanent("document-analysis", "no analysis provider configured", nil)
}

func (NoopAnalyzer) FetchPage(context.Context, string, string) (Page, error) {
	return Page{}, common.Permanent("document-analysis", "no analysis provider configured", nil)
}
