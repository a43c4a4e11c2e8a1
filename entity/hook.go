package entity

import "context"

type HookAction int

const (
	HookActionInvalid          HookAction = iota // default, not to be used
	HookActionProceed                            // continue processing of this row
	HookActionSkip                               // skip emitting this row and take next
	HookActionUnretryableError                   // abort the inbound message with an error
	HookActionShutdown                           // shut down this processor instance
)

// PostProjectionHookFunc is a client-provided function which the Executor calls for each
// projected row, prior to emitting it to the sink. This way the client could modify/enrich
// each row, or filter rows on their values, which the include/exclude projection does not
// support since it only regards field names.
// The row is provided as a mutable argument to avoid requiring the client to always
// return data even if not used. The source row is provided for context and must not be
// modified.
// The processor spec is provided for context and filtering logic capabilities, in case
// the same function is used by several processors.
type PostProjectionHookFunc func(ctx context.Context, spec *Spec, source Row, row *ProjectedRow) HookAction
