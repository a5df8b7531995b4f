package partition

import (
	"errors"
	"log/slog"
	"time"
)

// RetryEngineConfig bundles what a whole-sub-request retry needs to
// reroute a failed sub-request to a fresh node.
type RetryEngineConfig[ID comparable, R any] struct {
	Router    *Router[ID]
	Transport Transport[ID, R]
	Iterator  *DynamicIterator[R]
	MaxRetry  int
	Cap, PCap Capability
	Log       *slog.Logger
	Metrics   DispatchMetrics
}

// RetryCallback builds the completion callback installed on a
// sub-request: on success it simply forwards to underlying; on failure
// it reroutes to an alternate node (excluding the one that just failed)
// and resubmits, up to cfg.MaxRetry attempts, before giving up and
// forwarding the failure to underlying.
//
// cfg.MaxRetry <= 0 short-circuits to direct propagation, matching
// spec behavior for "no retry requested".
func RetryCallback[ID comparable, R any](cfg RetryEngineConfig[ID, R], underlying CompletionFunc[R]) CompletionFunc[R] {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopDispatchMetrics{}
	}
	if cfg.MaxRetry <= 0 {
		return underlying
	}

	var cb CompletionFunc[R]
	cb = func(res Result[R]) {
		if res.Ok() {
			underlying(res)
			return
		}

		var access RequestAccess[ID, R]
		if !errors.As(res.Err, &access) {
			underlying(res)
			return
		}

		failed := access.FailedRequest()
		if failed.Attempt() >= cfg.MaxRetry {
			failed.IDs().ForEach(func(ID) { cfg.Metrics.Exhausted() })
			underlying(res)
			return
		}

		if rerouteErr := reroute(cfg, failed, underlying); rerouteErr != nil {
			// Rerouting itself failed: surface the *original* failure,
			// never a rerouting-of-a-rerouting error, to avoid churn.
			cfg.Log.Warn("retry reroute failed, surfacing original failure",
				slog.Any("error", rerouteErr), slog.Any("node", failed.Node()))
			failed.IDs().ForEach(func(ID) { cfg.Metrics.Exhausted() })
			underlying(res)
		}
	}
	return cb
}

func reroute[ID comparable, R any](
	cfg RetryEngineConfig[ID, R],
	failed *PartitionedRequest[ID, R],
	underlying CompletionFunc[R],
) error {
	excluded := NewNodeSet(failed.Node())
	nodes, err := cfg.Router.Retry(failed.IDs(), excluded, 3, cfg.Cap, cfg.PCap)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return &NoNodesAvailableError[ID]{IDs: failed.IDs().Values()}
	}

	if len(nodes) > 1 {
		cfg.Iterator.AddAndGet(len(nodes) - 1)
	}

	for node, ids := range nodes {
		node, ids := node, ids
		retryCb := RetryCallback(cfg, underlying)
		start := time.Now()
		var next *PartitionedRequest[ID, R]
		timedCb := func(res Result[R]) {
			cfg.Metrics.InFlight(-1)
			cfg.Metrics.SubRequestDuration(time.Since(start).Seconds(), res.Ok())
			if !res.Ok() {
				res.Err = &RequestFailure[ID, R]{Req: next, Cause: res.Err}
			}
			retryCb(res)
		}
		next, buildErr := failed.rebuild(node, ids, timedCb)
		if buildErr != nil {
			return buildErr
		}
		cfg.Metrics.SubRequestSent(true)
		cfg.Metrics.InFlight(1)
		if sendErr := cfg.Transport.DoSendRequest(next); sendErr != nil {
			cfg.Metrics.InFlight(-1)
			return sendErr
		}
		cfg.Metrics.Rerouted()
	}
	return nil
}
