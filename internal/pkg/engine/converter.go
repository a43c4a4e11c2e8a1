package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/zpiroux/csv2json/entity"
	"github.com/zpiroux/csv2json/entity/projection"
	"github.com/zpiroux/csv2json/internal/pkg/csvformat"
	"github.com/zpiroux/csv2json/internal/pkg/resource"
	"golang.org/x/text/encoding"
)

var (
	ErrHookUnretryableError = errors.New("PostProjectionHookFunc reported unretryable error")
	ErrHookInvalidAction    = errors.New("PostProjectionHookFunc returned invalid action value")
	ErrHookShutdown         = errors.New("PostProjectionHookFunc requested shutdown")
)

// EmitFunc delivers a single outbound message downstream
type EmitFunc func(ctx context.Context, msg *entity.Message) error

// Conversion describes the outcome of converting the resource of one inbound message
type Conversion struct {
	URL         string
	RowsRead    int
	RowsEmitted int
	RowsSkipped int
}

// Converter fetches the CSV resource referenced by an inbound message, parses it with the
// configured format, and emits each projected row as a Message. It is immutable after
// creation and safe for concurrent use.
type Converter struct {
	spec         *entity.Spec
	projector    *projection.Projector
	delimiter    rune
	charset      encoding.Encoding
	opener       resource.Opener
	hook         entity.PostProjectionHookFunc
	fetchTimeout time.Duration
}

// NewConverter validates the projection part of the processor spec and builds the alias table. The
// format name is not validated here but when each message is converted.
func NewConverter(spec *entity.Spec, opener resource.Opener, hook entity.PostProjectionHookFunc) (*Converter, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: no spec provided", entity.ErrConfiguration)
	}
	projector, err := projection.NewProjector(spec.Projection)
	if err != nil {
		return nil, err
	}
	delimiter, err := spec.Projection.DelimiterRune()
	if err != nil {
		return nil, err
	}
	charset, err := resource.Charset(spec.Projection.Charset)
	if err != nil {
		return nil, err
	}
	if isNil(opener) {
		opener = &resource.DefaultOpener{}
	}
	return &Converter{
		spec:         spec,
		projector:    projector,
		delimiter:    delimiter,
		charset:      charset,
		opener:       opener,
		hook:         hook,
		fetchTimeout: time.Duration(spec.Ops.FetchTimeoutSec) * time.Second,
	}, nil
}

// Convert processes one inbound message payload. Rows are projected and emitted strictly in
// record order. The first failure aborts the conversion, and rows emitted before it are not
// revoked. The resource is always closed before returning.
func (c *Converter) Convert(ctx context.Context, payload []byte, emit EmitFunc) (conv Conversion, err error) {

	conv.URL = resource.PayloadURL(payload)
	u, err := resource.ParseURL(conv.URL)
	if err != nil {
		return conv, err
	}

	format, err := csvformat.Resolve(c.spec.Projection.Format, c.delimiter)
	if err != nil {
		return conv, err
	}

	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	stream, err := c.opener.Open(ctx, u)
	if err != nil {
		return conv, err
	}
	defer stream.Close()

	reader, err := csvformat.NewReader(resource.Decode(stream, c.charset), format)
	if err != nil {
		return conv, err
	}

	for {
		if ctx.Err() != nil {
			return conv, fmt.Errorf("%w: %v", entity.ErrResourceUnavailable, ctx.Err())
		}
		row, err := reader.Next()
		if err == io.EOF {
			return conv, nil
		}
		if err != nil {
			return conv, err
		}
		conv.RowsRead++

		projected := c.projector.Project(row)
		if c.hook != nil {
			skip, err := c.applyHook(ctx, row, &projected)
			if err != nil {
				return conv, err
			}
			if skip {
				conv.RowsSkipped++
				continue
			}
		}

		msg := entity.NewMessage(projected, c.spec.Projection.ContentType)
		msg.Headers[entity.HeaderSourceUrl] = conv.URL
		msg.Headers[entity.HeaderRowNumber] = strconv.Itoa(row.Number)

		if err := emit(ctx, msg); err != nil {
			return conv, fmt.Errorf("%w: row %d: %w", entity.ErrEmit, row.Number, err)
		}
		conv.RowsEmitted++
	}
}

func (c *Converter) applyHook(ctx context.Context, row entity.Row, projected *entity.ProjectedRow) (skip bool, err error) {
	action := c.hook(ctx, c.spec, row, projected)
	switch action {
	case entity.HookActionProceed:
		return false, nil
	case entity.HookActionSkip:
		return true, nil
	case entity.HookActionUnretryableError:
		return false, fmt.Errorf("%w: row %d", ErrHookUnretryableError, row.Number)
	case entity.HookActionShutdown:
		return false, ErrHookShutdown
	default:
		return false, fmt.Errorf("%w : %v", ErrHookInvalidAction, action)
	}
}
