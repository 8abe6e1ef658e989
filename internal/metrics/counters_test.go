package metrics

import "testing"

func TestSnapshotAndReset(t *testing.T) {
	c := New()
	c.AddRequest()
	c.AddRequest()
	c.AddRequest()
	c.AddRequest()
	c.AddForwarded(5000)
	c.AddForwarded(15000)
	c.AddCached(3000)
	c.AddBlocked(2000)

	snap := c.SnapshotAndReset()
	if snap.Requests != 4 {
		t.Errorf("Requests = %d, want 4", snap.Requests)
	}
	if snap.Forwarded != 2 {
		t.Errorf("Forwarded = %d, want 2", snap.Forwarded)
	}
	if snap.Cached != 1 {
		t.Errorf("Cached = %d, want 1", snap.Cached)
	}
	if snap.Blocked != 1 {
		t.Errorf("Blocked = %d, want 1", snap.Blocked)
	}
	// (5000+15000+3000+2000)us / 4 requests / 1000 = 6.25ms.
	if snap.AvgResponseMs != 6.25 {
		t.Errorf("AvgResponseMs = %v, want 6.25", snap.AvgResponseMs)
	}

	// Must be zeroed after the read.
	second := c.SnapshotAndReset()
	if second.Requests != 0 || second.Forwarded != 0 || second.Cached != 0 || second.Blocked != 0 {
		t.Errorf("second snapshot = %+v, want all zero", second)
	}
}

func TestSnapshotAvgWithNoDecisions(t *testing.T) {
	c := New()
	c.AddRequest()
	snap := c.SnapshotAndReset()
	if snap.AvgResponseMs != 0 {
		t.Errorf("AvgResponseMs = %v, want 0 with no recorded response time", snap.AvgResponseMs)
	}
}
