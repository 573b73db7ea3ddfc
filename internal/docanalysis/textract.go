package docanalysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/textract"
	"github.com/aws/aws-sdk-go/service/textract/textractiface"

	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/grouping"
)

const stageAnalysis = "document-analysis"

// TextractAnalyzer implements Analyzer on AWS Textract asynchronous
// document analysis. storageRef is the object key inside Bucket.
type TextractAnalyzer struct {
	client textractiface.TextractAPI
	bucket string
	log    *slog.Logger
}

func NewTextractAnalyzer(sess *session.Session, bucket string, log *slog.Logger) *TextractAnalyzer {
	if log == nil {
		log = slog.Default()
	}
	return &TextractAnalyzer{client: textract.New(sess), bucket: bucket, log: log}
}

// NewTextractAnalyzerWithClient is used by tests to inject a fake client.
func NewTextractAnalyzerWithClient(client textractiface.TextractAPI, bucket string, log *slog.Logger) *TextractAnalyzer {
	if log == nil {
		log = slog.Default()
	}
	return &TextractAnalyzer{client: client, bucket: bucket, log: log}
}

func (a *TextractAnalyzer) Submit(ctx context.Context, storageRef string) (string, error) {
	out, err := a.client.StartDocumentAnalysisWithContext(ctx, &textract.StartDocumentAnalysisInput{
		DocumentLocation: &textract.DocumentLocation{
			S3Object: &textract.S3Object{
				Bucket: aws.String(a.bucket),
				Name:   aws.String(storageRef),
			},
		},
		FeatureTypes: aws.StringSlice([]string{textract.FeatureTypeLayout, textract.FeatureTypeForms}),
	})
	if err != nil {
		return "", a.classify("start document analysis", err)
	}
	if out.JobId == nil || *out.JobId == "" {
		return "", common.Permanent(stageAnalysis, "provider returned no job id", nil)
	}
	a.log.Info("textract job started", "job_handle", *out.JobId, "storage_ref", storageRef)
	return *out.JobId, nil
}

func (a *TextractAnalyzer) Poll(ctx context.Context, jobHandle string) (PollResult, error) {
	out, err := a.client.GetDocumentAnalysisWithContext(ctx, &textract.GetDocumentAnalysisInput{
		JobId: aws.String(jobHandle),
	})
	if err != nil {
		return PollResult{}, a.classify("poll document analysis", err)
	}
	switch aws.StringValue(out.JobStatus) {
	case textract.JobStatusSucceeded, textract.JobStatusPartialSuccess:
		return PollResult{State: StateDone}, nil
	case textract.JobStatusFailed:
		return PollResult{State: StateFailed, Message: aws.StringValue(out.StatusMessage)}, nil
	default:
		return PollResult{State: StatePending}, nil
	}
}

func (a *TextractAnalyzer) FetchPage(ctx context.Context, jobHandle, continuationToken string) (Page, error) {
	in := &textract.GetDocumentAnalysisInput{JobId: aws.String(jobHandle)}
	if continuationToken != "" {
		in.NextToken = aws.String(continuationToken)
	}
	out, err := a.client.GetDocumentAnalysisWithContext(ctx, in)
	if err != nil {
		return Page{}, a.classify("fetch analysis page", err)
	}

	page := Page{NextToken: aws.StringValue(out.NextToken)}
	for _, block := range out.Blocks {
		if f, ok := fragmentFromBlock(block); ok {
			page.Fragments = append(page.Fragments, f)
		}
	}
	return page, nil
}

// fragmentFromBlock keeps LINE blocks with text and a usable geometry,
// falling back to a polygon-derived bounding box when needed.
func fragmentFromBlock(block *textract.Block) (grouping.Fragment, bool) {
	if block == nil || aws.StringValue(block.BlockType) != textract.BlockTypeLine {
		return grouping.Fragment{}, false
	}
	text := aws.StringValue(block.Text)
	if text == "" {
		return grouping.Fragment{}, false
	}

	f := grouping.Fragment{Text: text, Page: int(aws.Int64Value(block.Page))}
	geom := block.Geometry
	if geom == nil {
		return grouping.Fragment{}, false
	}
	if bb := geom.BoundingBox; bb != nil && bb.Top != nil && bb.Left != nil && bb.Width != nil && bb.Height != nil {
		f.Left = aws.Float64Value(bb.Left)
		f.Top = aws.Float64Value(bb.Top)
		f.Width = aws.Float64Value(bb.Width)
		f.Height = aws.Float64Value(bb.Height)
		return f, true
	}
	if len(geom.Polygon) == 4 {
		minX, maxX := aws.Float64Value(geom.Polygon[0].X), aws.Float64Value(geom.Polygon[0].X)
		minY, maxY := aws.Float64Value(geom.Polygon[0].Y), aws.Float64Value(geom.Polygon[0].Y)
		for _, p := range geom.Polygon[1:] {
			x, y := aws.Float64Value(p.X), aws.Float64Value(p.Y)
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
		f.Left, f.Top = minX, minY
		f.Width, f.Height = maxX-minX, maxY-minY
		if f.Width <= 0 {
			f.Width = 1e-9
		}
		if f.Height <= 0 {
			f.Height = 1e-9
		}
		return f, true
	}
	return grouping.Fragment{}, false
}

// classify maps AWS errors onto the failure taxonomy: explicit input
// rejections are permanent, throttling and availability problems are
// transient.
func (a *TextractAnalyzer) classify(op string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case textract.ErrCodeInvalidS3ObjectException,
			textract.ErrCodeUnsupportedDocumentException,
			textract.ErrCodeBadDocumentException,
			textract.ErrCodeDocumentTooLargeException,
			textract.ErrCodeInvalidParameterException:
			return common.Permanent(stageAnalysis, fmt.Sprintf("%s rejected: %s", op, aerr.Code()), err)
		}
	}
	return common.Transient(stageAnalysis, op+" failed", err)
}
