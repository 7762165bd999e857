package domain

import "testing"

func TestRollupBatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		counts []StatusCount
		want   BatchCounts
	}{
		{
			name: "one of each outcome is partially failed",
			counts: []StatusCount{
				{Status: RequisitionStatusCreated, Count: 1},
				{Status: RequisitionStatusSubmitted, Count: 1},
				{Status: RequisitionStatusFailed, Count: 1},
			},
			want: BatchCounts{Total: 3, Processed: 3, Successful: 2, Failed: 1, Status: BatchStatusPartiallyFailed},
		},
		{
			name:   "all failed",
			counts: []StatusCount{{Status: RequisitionStatusFailed, Count: 2}},
			want:   BatchCounts{Total: 2, Processed: 2, Failed: 2, Status: BatchStatusFailed},
		},
		{
			name:   "all submitted",
			counts: []StatusCount{{Status: RequisitionStatusSubmitted, Count: 4}},
			want:   BatchCounts{Total: 4, Processed: 4, Successful: 4, Status: BatchStatusCompleted},
		},
		{
			name: "created and approved count as successful",
			counts: []StatusCount{
				{Status: RequisitionStatusCreated, Count: 1},
				{Status: RequisitionStatusApproved, Count: 2},
			},
			want: BatchCounts{Total: 3, Processed: 3, Successful: 3, Status: BatchStatusCompleted},
		},
		{
			name:   "nothing processed yet",
			counts: []StatusCount{{Status: RequisitionStatusPending, Count: 5}},
			want:   BatchCounts{Total: 5, Status: BatchStatusProcessing},
		},
		{
			name: "some pending some done",
			counts: []StatusCount{
				{Status: RequisitionStatusPending, Count: 2},
				{Status: RequisitionStatusCreated, Count: 1},
			},
			want: BatchCounts{Total: 3, Processed: 1, Successful: 1, Status: BatchStatusPartiallyFailed},
		},
		{
			name: "rejected is processed but not successful",
			counts: []StatusCount{
				{Status: RequisitionStatusApproved, Count: 1},
				{Status: RequisitionStatusRejected, Count: 1},
			},
			want: BatchCounts{Total: 2, Processed: 2, Successful: 1, Status: BatchStatusPartiallyFailed},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := RollupBatch(tt.counts)
			if got != tt.want {
				t.Fatalf("RollupBatch() = %+v, want %+v", got, tt.want)
			}
			if got.Successful > got.Processed || got.Failed > got.Processed || got.Processed > got.Total {
				t.Fatalf("RollupBatch() counters out of bounds: %+v", got)
			}
		})
	}
}

func TestRollupBatch_Idempotent(t *testing.T) {
	t.Parallel()

	counts := []StatusCount{
		{Status: RequisitionStatusFailed, Count: 1},
		{Status: RequisitionStatusCreated, Count: 2},
	}
	first := RollupBatch(counts)
	second := RollupBatch(counts)
	if first != second {
		t.Fatalf("RollupBatch() not stable: %+v vs %+v", first, second)
	}
}
