package docanalysis

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/textract"
	"github.com/aws/aws-sdk-go/service/textract/textractiface"

	"github.com/applyline/applyline/internal/common"
)

type fakeTextract struct {
	textractiface.TextractAPI

	startOut *textract.StartDocumentAnalysisOutput
	startErr error
	getOut   *textract.GetDocumentAnalysisOutput
	getErr   error
	startIn  *textract.StartDocumentAnalysisInput
	getIn    *textract.GetDocumentAnalysisInput
}

func (f *fakeTextract) StartDocumentAnalysisWithContext(_ aws.Context, in *textract.StartDocumentAnalysisInput, _ ...request.Option) (*textract.StartDocumentAnalysisOutput, error) {
	f.startIn = in
	return f.startOut, f.startErr
}

func (f *fakeTextract) GetDocumentAnalysisWithContext(_ aws.Context, in *textract.GetDocumentAnalysisInput, _ ...request.Option) (*textract.GetDocumentAnalysisOutput, error) {
	f.getIn = in
	return f.getOut, f.getErr
}

func TestSubmitStartsLayoutAnalysis(t *testing.T) {
	fake := &fakeTextract{
		startOut: &textract.StartDocumentAnalysisOutput{JobId: aws.String("job-1")},
	}
	a := NewTextractAnalyzerWithClient(fake, "bucket-1", nil)

	handle, err := a.Submit(context.Background(), "abc/resume.pdf")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if handle != "job-1" {
		t.Errorf("handle = %q", handle)
	}
	obj := fake.startIn.DocumentLocation.S3Object
	if aws.StringValue(obj.Bucket) != "bucket-1" || aws.StringValue(obj.Name) != "abc/resume.pdf" {
		t.Errorf("wrong document location: %v", obj)
	}
}

func TestSubmitClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"unsupported document", awserr.New(textract.ErrCodeUnsupportedDocumentException, "nope", nil), true},
		{"bad document", awserr.New(textract.ErrCodeBadDocumentException, "corrupt", nil), true},
		{"too large", awserr.New(textract.ErrCodeDocumentTooLargeException, "big", nil), true},
		{"throttled", awserr.New(textract.ErrCodeProvisionedThroughputExceededException, "slow down", nil), false},
		{"internal", awserr.New(textract.ErrCodeInternalServerError, "oops", nil), false},
		{"plain error", errors.New("dial tcp: timeout"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewTextractAnalyzerWithClient(&fakeTextract{startErr: tc.err}, "b", nil)
			_, err := a.Submit(context.Background(), "key")
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := common.IsPermanent(err); got != tc.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tc.permanent)
			}
		})
	}
}

func TestPollStates(t *testing.T) {
	cases := []struct {
		status string
		want   JobState
	}{
		{textract.JobStatusInProgress, StatePending},
		{textract.JobStatusSucceeded, StateDone},
		{textract.JobStatusPartialSuccess, StateDone},
		{textract.JobStatusFailed, StateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			fake := &fakeTextract{getOut: &textract.GetDocumentAnalysisOutput{
				JobStatus:     aws.String(tc.status),
				StatusMessage: aws.String("detail"),
			}}
			a := NewTextractAnalyzerWithClient(fake, "b", nil)
			pr, err := a.Poll(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("poll: %v", err)
			}
			if pr.State != tc.want {
				t.Errorf("state = %s, want %s", pr.State, tc.want)
			}
			if tc.want == StateFailed && pr.Message != "detail" {
				t.Errorf("failed poll should carry the provider message, got %q", pr.Message)
			}
		})
	}
}

func TestFetchPageExtractsLines(t *testing.T) {
	fake := &fakeTextract{getOut: &textract.GetDocumentAnalysisOutput{
		NextToken: aws.String("token-2"),
		Blocks: []*textract.Block{
			{
				BlockType: aws.String(textract.BlockTypeLine),
				Text:      aws.String("Jane Doe"),
				Page:      aws.Int64(1),
				Geometry: &textract.Geometry{BoundingBox: &textract.BoundingBox{
					Left: aws.Float64(0.1), Top: aws.Float64(0.2),
					Width: aws.Float64(0.3), Height: aws.Float64(0.01),
				}},
			},
			{BlockType: aws.String(textract.BlockTypeWord), Text: aws.String("noise")},
			{BlockType: aws.String(textract.BlockTypeLine), Text: aws.String("")},
		},
	}}
	a := NewTextractAnalyzerWithClient(fake, "b", nil)

	page, err := a.FetchPage(context.Background(), "job-1", "token-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if aws.StringValue(fake.getIn.NextToken) != "token-1" {
		t.Errorf("continuation token not forwarded: %v", fake.getIn.NextToken)
	}
	if page.NextToken != "token-2" {
		t.Errorf("next token = %q", page.NextToken)
	}
	if len(page.Fragments) != 1 {
		t.Fatalf("fragments = %d, want 1 (LINE blocks with text only)", len(page.Fragments))
	}
	f := page.Fragments[0]
	if f.Text != "Jane Doe" || f.Page != 1 || f.Left != 0.1 || f.Top != 0.2 {
		t.Errorf("fragment = %+v", f)
	}
}

func TestFragmentFromPolygonFallback(t *testing.T) {
	block := &textract.Block{
		BlockType: aws.String(textract.BlockTypeLine),
		Text:      aws.String("line"),
		Page:      aws.Int64(2),
		Geometry: &textract.Geometry{Polygon: []*textract.Point{
			{X: aws.Float64(0.1), Y: aws.Float64(0.5)},
			{X: aws.Float64(0.4), Y: aws.Float64(0.5)},
			{X: aws.Float64(0.4), Y: aws.Float64(0.52)},
			{X: aws.Float64(0.1), Y: aws.Float64(0.52)},
		}},
	}
	f, ok := fragmentFromBlock(block)
	if !ok {
		t.Fatal("polygon geometry should yield a fragment")
	}
	if f.Left != 0.1 || f.Top != 0.5 {
		t.Errorf("origin = (%v, %v)", f.Left, f.Top)
	}
	if f.Width <= 0 || f.Height <= 0 {
		t.Errorf("degenerate box: %v x %v", f.Width, f.Height)
	}
}
