package tier

import "github.com/bc-dunia/gatortree/internal/depgraph"

// sub_ is the reserved metric-name prefix tier-computed counters own;
// §9's open-question resolution rejects user metrics in this
// namespace so they can never collide with sub_total et al.
const reservedMetricPrefix = "sub_"

// IsReservedMetricName reports whether name collides with the
// tier-computed counter namespace.
func IsReservedMetricName(name string) bool {
	return len(name) >= len(reservedMetricPrefix) && name[:len(reservedMetricPrefix)] == reservedMetricPrefix
}

// computeAggregate folds a tier's direct children into the §3 Aggregate
// metrics: sub_total over every leaf in the subtree (each child
// contributes its own sub_total if it is itself a tier, or 1 if it is
// a wrapper-leaf with no sub_total reported yet), sub_active over
// children in LAUNCHED/STARTED, sub_passed/sub_failed over COMPLETE
// children, plus an element-wise sum of every other named metric.
func computeAggregate(children map[string]*ChildRecord) Aggregate {
	agg := Aggregate{Named: make(map[string]int64)}

	for _, c := range children {
		if total, ok := c.Metrics["sub_total"]; ok {
			agg.SubTotal += total
		} else {
			agg.SubTotal++
		}

		switch c.State {
		case depgraph.StateLaunched, depgraph.StateStarted:
			agg.SubActive++
		}

		if c.State == depgraph.StateComplete {
			switch c.Result {
			case depgraph.ResultSuccess:
				agg.SubPassed++
			case depgraph.ResultFailure, depgraph.ResultAborted:
				agg.SubFailed++
			}
		}

		for name, value := range c.Metrics {
			if IsReservedMetricName(name) {
				continue
			}
			agg.Named[name] += value
		}
	}

	return agg
}
