package datefilter

import (
	"strings"
	"testing"
	"time"
)

// TestDateFilterFormatting is spec.md §8 scenario 6: an explicit
// start/end range renders the exact quoted, microsecond-trimmed filter
// string the backend expects.
func TestDateFilterFormatting(t *testing.T) {
	got, err := Build(Absolute("2024-05-01", "2024-05-31"), time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `createTime > "2024-05-01T00:00:00Z" AND createTime < "2024-05-31T23:59:59.999999Z"`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// TestQuotedTimestamps is spec.md §8 invariant 4: every generated filter
// contains quoted RFC-3339 strings.
func TestQuotedTimestamps(t *testing.T) {
	got, err := Build(Relative(7, 0), time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Count(got, `"`) != 4 {
		t.Fatalf("expected two quoted timestamps (4 quote marks), got %q", got)
	}
}

// TestOpenEndedStartOnly covers the "only start_date given" branch: the
// filter has no upper bound.
func TestOpenEndedStartOnly(t *testing.T) {
	got, err := Build(Absolute("2024-05-01", ""), time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `createTime > "2024-05-01T00:00:00Z"`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if strings.Contains(got, "AND") {
		t.Fatalf("open-ended filter must not have an upper bound: %q", got)
	}
}

// TestRelativeWindow exercises the (days_window, offset) representation:
// end = now - offset days, start = end - days_window days, both at day
// boundaries.
func TestRelativeWindow(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)
	got, err := Build(Relative(3, 1), now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `createTime > "2024-06-11T00:00:00Z" AND createTime < "2024-06-14T23:59:59.999999Z"`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// TestInvalidDate exercises the InvalidDate error kind for a malformed
// calendar string.
func TestInvalidDate(t *testing.T) {
	_, err := Build(Absolute("not-a-date", ""), time.Now())
	if err == nil {
		t.Fatal("expected error for malformed start_date")
	}
}

// TestEndBeforeStartRejected exercises the DateWindow invariant: when both
// endpoints are present, start must not be after end.
func TestEndBeforeStartRejected(t *testing.T) {
	_, err := Build(Absolute("2024-05-31", "2024-05-01"), time.Now())
	if err == nil {
		t.Fatal("expected error when end_date precedes start_date")
	}
}

// TestNoBoundsReturnsEmpty matches create_date_filter's "not start_date ->
// None" behavior when neither relative nor absolute bounds are given.
func TestNoBoundsReturnsEmpty(t *testing.T) {
	got, err := Build(Window{}, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty filter for an unbounded window, got %q", got)
	}
}

// TestAndCombinesNonEmptyFilters checks the AND-combination helper used to
// merge a caller-supplied backend filter with the date filter.
func TestAndCombinesNonEmptyFilters(t *testing.T) {
	cases := []struct {
		a, b, want string
	}{
		{"", "", ""},
		{"a", "", "a"},
		{"", "b", "b"},
		{"a", "b", "a AND b"},
	}
	for _, c := range cases {
		if got := And(c.a, c.b); got != c.want {
			t.Fatalf("And(%q, %q) = %q, want %q", c.a, c.b, got, c.want)
		}
	}
}
