package web

import (
	"zapai.dev/pkg/dispatch"
	"zapai.dev/pkg/queue"
	"zapai.dev/pkg/relay"
)

// Stats is the aggregated runtime view served at /api/stats and pushed over
// the live feed.
type Stats struct {
	Version       string           `json:"version"`
	BotNpub       string           `json:"bot_npub"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Relays        []relay.Snapshot `json:"relays"`
	Queue         queue.Stats      `json:"queue"`
	Dispatch      dispatch.Stats   `json:"dispatch"`
	Breaker       BreakerStats     `json:"breaker"`
	Responses     int64            `json:"responses"`
	Declined      int64            `json:"declined"`
	Receipts      int64            `json:"receipts"`
	BalanceReads  int64            `json:"balance_reads"`
	RateBuckets   int              `json:"rate_buckets"`
	DedupIDs      int              `json:"dedup_ids"`
	Fingerprints  int              `json:"fingerprints"`
}

// BreakerStats is the circuit breaker's dashboard view.
type BreakerStats struct {
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
}
