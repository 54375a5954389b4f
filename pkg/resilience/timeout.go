// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/hubnet/pkg/errors"
)

// WithTimeout runs fn with a context bounded by d. fn must honour the
// context. A deadline hit is reported as CodeTimeout. d <= 0 means no bound.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(tctx)
	if err != nil && stderrors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", err).
			WithContext("timeout", d.String())
	}
	return err
}
