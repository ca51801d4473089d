package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingoloom/internal/generation"
	"github.com/MrWong99/lingoloom/internal/observe"
	"github.com/MrWong99/lingoloom/internal/prompt"
)

// maxLineBytes bounds a single JSONL request line.
const maxLineBytes = 1 << 20

// BatchItem is one line of a JSONL batch file.
type BatchItem struct {
	ID             string         `json:"id,omitempty"`
	Kind           string         `json:"kind"`
	Language       string         `json:"language"`
	Params         map[string]any `json:"params,omitempty"`
	Moderate       bool           `json:"moderate,omitempty"`
	ModerateOutput bool           `json:"moderate_output,omitempty"`
}

// Request converts the item into a generation request.
func (b BatchItem) Request() (generation.Request, error) {
	var opts []generation.RequestOption
	if b.Moderate {
		opts = append(opts, generation.WithModeration())
	}
	if b.ModerateOutput {
		opts = append(opts, generation.WithOutputModeration())
	}
	return generation.NewRequest(prompt.ContentKind(b.Kind), b.Language, b.Params, opts...)
}

// Outcome is the JSON written for one request, in batch and single mode.
type Outcome struct {
	// Line is the 1-based input line. Zero outside batch mode.
	Line     int    `json:"line,omitempty"`
	ID       string `json:"id,omitempty"`
	Kind     string `json:"kind"`
	Language string `json:"language"`

	Attempts    int    `json:"attempts,omitempty"`
	TotalTokens int    `json:"total_tokens,omitempty"`
	Value       any    `json:"value,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
}

// NewOutcome builds the output record for a finished request.
func NewOutcome(ctx context.Context, item BatchItem, res *generation.Result, err error) Outcome {
	out := Outcome{
		ID:       item.ID,
		Kind:     item.Kind,
		Language: item.Language,
		TraceID:  observe.CorrelationID(ctx),
	}
	if err != nil {
		out.Error = err.Error()
		out.ErrorCode = generation.Code(err)
		return out
	}
	out.Language = res.Language
	out.Attempts = res.Attempts
	out.TotalTokens = res.Usage.TotalTokens
	out.Value = res.Value
	return out
}

// BatchStats summarises a batch run.
type BatchStats struct {
	Total     int
	Succeeded int
	Failed    int
}

// RunBatch reads one [BatchItem] per line from r and writes one [Outcome]
// per line to w, in completion order. At most concurrency requests run at
// once; values below 1 mean 1. Blank lines are skipped.
//
// A failing item never stops the batch. The returned error is non-nil only
// when r cannot be read, w cannot be written, or ctx is cancelled.
func (a *App) RunBatch(ctx context.Context, r io.Reader, w io.Writer, concurrency int) (BatchStats, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu    sync.Mutex
		stats BatchStats
		enc   = json.NewEncoder(w)
	)
	emit := func(o Outcome) error {
		mu.Lock()
		defer mu.Unlock()
		stats.Total++
		if o.ErrorCode == "" {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("app: write batch result: %w", err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		n := line
		g.Go(func() error {
			return emit(a.runItem(gctx, n, text))
		})
	}
	scanErr := sc.Err()

	if err := g.Wait(); err != nil {
		return stats, err
	}
	if scanErr != nil {
		return stats, fmt.Errorf("app: read batch: %w", scanErr)
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (a *App) runItem(ctx context.Context, line int, text string) Outcome {
	ctx, span := observe.StartSpan(ctx, "batch.item")
	span.SetAttributes(attribute.Int("line", line))

	var item BatchItem
	if err := json.Unmarshal([]byte(text), &item); err != nil {
		err = fmt.Errorf("%w: line %d: %w", generation.ErrInvalidRequest, line, err)
		observe.EndSpan(span, err)
		out := NewOutcome(ctx, item, nil, err)
		out.Line = line
		return out
	}

	req, err := item.Request()
	var res *generation.Result
	if err == nil {
		res, err = a.Generate(ctx, req)
	}
	if err != nil {
		observe.Logger(ctx).Warn("batch item failed", "line", line, "id", item.ID, "code", generation.Code(err), "err", err)
	}
	out := NewOutcome(ctx, item, res, err)
	out.Line = line
	observe.EndSpan(span, err)
	return out
}
