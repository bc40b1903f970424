package netcheck

import (
	"testing"

	st "github.com/showwin/speedtest-go/speedtest"
)

func TestNearestSortsAndLimits(t *testing.T) {
	t.Parallel()
	servers := st.Servers{
		{Sponsor: "far", Distance: 900},
		{Sponsor: "near", Distance: 12},
		{Sponsor: "mid", Distance: 120},
	}

	got := nearest(servers, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Sponsor != "near" || got[1].Sponsor != "mid" {
		t.Fatalf("order = %q, %q", got[0].Sponsor, got[1].Sponsor)
	}
	// Input order must survive.
	if servers[0].Sponsor != "far" {
		t.Fatalf("input slice was reordered: %q", servers[0].Sponsor)
	}
}

func TestNearestShortList(t *testing.T) {
	t.Parallel()
	servers := st.Servers{{Sponsor: "only", Distance: 5}}
	got := nearest(servers, 5)
	if len(got) != 1 || got[0].Sponsor != "only" {
		t.Fatalf("got %v", got)
	}
}
