package engine

import (
	"context"

	"github.com/escrowd/coordinator/internal/domain"
)

// DispatchRound runs every Action Dispatcher's select-and-act pass once for
// source (spec §4.4's ten dispatchers). None of the individual Dispatch*
// methods return an error — failures are per-row, logged, and reflected into
// the row's own NextAction/error fields — so a round either runs every
// dispatcher or it doesn't; there is nothing for the caller to recover from.
// Callers schedule this on a ~10s timer per active PaymentSource, the same
// cadence SyncLoop.Run uses.
func (d *Dispatcher) DispatchRound(ctx context.Context, source domain.PaymentSource, nowMs int64) {
	d.DispatchRegisterAgent(ctx, source)
	d.DispatchDeregisterAgent(ctx, source)

	d.DispatchLockFunds(ctx, source)
	d.DispatchRequestRefund(ctx, source)
	d.DispatchCancelRefundRequest(ctx, source)
	d.DispatchWithdrawRefund(ctx, source, nowMs)

	d.DispatchSubmitResult(ctx, source)
	d.DispatchAuthorizeRefund(ctx, source)
	d.DispatchWithdraw(ctx, source, nowMs)
	d.DispatchWithdrawDisputed(ctx, source, nowMs)
}
