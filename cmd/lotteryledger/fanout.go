package main

import (
	"context"

	"LotteryLedger/internal/core"
	"LotteryLedger/internal/observability"
)

// fanOut copies each output from the core's projection channel to the
// projection worker and the outbound publisher. Sends never block; a full
// consumer drops the output and counts it.
func fanOut(
	ctx context.Context,
	in <-chan core.CoreOutput,
	projectionOut, publishOut chan<- core.CoreOutput,
	metrics *observability.Metrics,
) {
	defer close(projectionOut)
	defer close(publishOut)

	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-in:
			if !ok {
				return
			}
			select {
			case projectionOut <- out:
			default:
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("fanout").Inc()
				}
			}
			select {
			case publishOut <- out:
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}
		}
	}
}
