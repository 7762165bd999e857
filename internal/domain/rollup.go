package domain

// StatusCount is the number of requisitions of a batch in one status.
type StatusCount struct {
	Status RequisitionStatus
	Count  int
}

// BatchCounts is the aggregate derived from a batch's requisition statuses.
type BatchCounts struct {
	Total      int
	Processed  int
	Successful int
	Failed     int
	Status     BatchStatus
}

// RollupBatch derives batch counters and status from per-status requisition counts.
// REJECTED items count as processed but neither successful nor failed, so a batch
// containing them can only end PARTIALLY_FAILED.
func RollupBatch(counts []StatusCount) BatchCounts {
	var out BatchCounts
	for _, c := range counts {
		out.Total += c.Count
		if c.Status.IsProcessed() {
			out.Processed += c.Count
		}
		if c.Status.IsSuccessful() {
			out.Successful += c.Count
		}
		if c.Status == RequisitionStatusFailed {
			out.Failed += c.Count
		}
	}

	switch {
	case out.Failed == out.Total:
		out.Status = BatchStatusFailed
	case out.Successful == out.Total:
		out.Status = BatchStatusCompleted
	case out.Processed > 0:
		out.Status = BatchStatusPartiallyFailed
	default:
		out.Status = BatchStatusProcessing
	}
	return out
}
