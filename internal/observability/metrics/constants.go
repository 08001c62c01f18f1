// Package metrics provides constants used across metric definitions.
package metrics

// Operation label values.
const (
	// OpPlantRead represents plant collection reads.
	OpPlantRead = "plant_read"
	// OpPlantWrite represents plant upserts.
	OpPlantWrite = "plant_write"
	// OpPlantDelete represents plant removals.
	OpPlantDelete = "plant_delete"
	// OpHandleClaim represents handle claims.
	OpHandleClaim = "claim"
	// OpHandleRelease represents handle releases.
	OpHandleRelease = "release"
	// OpHandleRename represents handle renames.
	OpHandleRename = "rename"
	// OpHandleResolve represents handle lookups.
	OpHandleResolve = "resolve"
	// OpHandleSearch represents prefix searches.
	OpHandleSearch = "search"
	// OpHandleAvailable represents availability checks.
	OpHandleAvailable = "available"
	// OpKVGet represents single key reads.
	OpKVGet = "kv_get"
	// OpKVScan represents key prefix scans.
	OpKVScan = "kv_scan"
	// OpAlertRecord represents care alert inserts.
	OpAlertRecord = "alert_record"
	// OpAlertList represents alert history queries.
	OpAlertList = "alert_list"
	// OpTransaction represents database transactions.
	OpTransaction = "transaction"
)

// Label values.
const (
	// LabelSuccess marks a successful operation.
	LabelSuccess = "success"
	// LabelError marks a failed operation.
	LabelError = "error"
	// LabelLive marks a snapshot read from the persistent store.
	LabelLive = "live"
	// LabelCache marks a snapshot served from the offline cache.
	LabelCache = "cache"
	// LabelHit is a cache hit.
	LabelHit = "hit"
	// LabelMiss is a cache miss.
	LabelMiss = "miss"
	// LabelPlants is the cache type for plant collections.
	LabelPlants = "plants"
	// LabelContention marks a transaction aborted by a concurrent change.
	LabelContention = "contention"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart100us is the starting bucket for 0.1ms histograms.
	BucketStart100us = 0.0001
	// BucketStart1 is the starting bucket for count histograms.
	BucketStart1 = 1.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)
