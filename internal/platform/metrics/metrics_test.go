package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDomainCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.KeyCreated("personal")
	m.KeyCreated("personal")
	m.KeyRevoked("Expired")
	m.MembersSynced(3, 1)

	if got := testutil.ToFloat64(m.AccessKeysCreated.WithLabelValues("personal")); got != 2 {
		t.Errorf("created_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SyncMembers.WithLabelValues("added")); got != 3 {
		t.Errorf("members added = %v, want 3", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.KeyCreated("personal")
	m.MembersSynced(1, 1)
	m.RepoClaimed(2)
}
