package telemetry

import (
	"context"
	"errors"

	"github.com/statekeep/statekeep/pkg/store"
)

// Middleware returns store middleware that wraps every dispatch in a span,
// records dispatch metrics and logs failures.
func (t *Telemetry) Middleware() store.Middleware {
	logger := t.Logger.NewComponentLogger("dispatch")
	return store.MiddlewareFunc(func(ctx context.Context, action store.Action, next store.Next) (store.Action, error) {
		ctx, span := t.Tracer.StartDispatchSpan(ctx, action.Type, action.Meta.Remote)
		defer span.End()
		timer := NewTimer()

		result, err := next(ctx, action)

		if result.Meta.ID != "" {
			span.SetAttributes(AttrActionID.String(result.Meta.ID), AttrActionOrigin.String(result.Meta.Origin))
		}
		t.Metrics.RecordDispatch(action.Type, err, timer.Duration())
		if err != nil {
			RecordError(span, err)
			var se *store.StoreError
			if errors.As(err, &se) {
				span.SetAttributes(AttrErrorClass.String(string(se.Class)), AttrErrorCode.String(se.Code))
				t.Metrics.RecordError(string(se.Class))
				if se.Class == store.ErrorClassPolicy {
					t.Metrics.RecordPolicyDenial(action.Type)
				}
			}
			logger.WithAction(action.Type).WithError(err).Debug("Dispatch failed")
			return result, err
		}
		RecordSuccess(span)
		return result, nil
	})
}
