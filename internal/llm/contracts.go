package llm

import (
	"context"
	"encoding/json"

	"github.com/applyline/applyline/internal/grouping"
)

// Normalizer turns grouped resume text into a structured record. The
// returned JSON is validated by the caller against BuildResumeJSONSchema;
// implementations classify content-level rejections as permanent via
// common.ClassifiedError.
type Normalizer interface {
	Normalize(ctx context.Context, grouped grouping.Sections) (json.RawMessage, error)
}

// Embedder turns text into a fixed-length numeric vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
