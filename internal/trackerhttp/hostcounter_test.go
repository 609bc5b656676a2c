package trackerhttp

import "testing"

func TestHostCounterRefCounting(t *testing.T) {
	c := NewHostCounter()

	c.Add("http://tracker.example.com/announce")
	c.Add("http://tracker.example.com/announce?passkey=abc")
	if got := c.UniqueCount(); got != 1 {
		t.Fatalf("expected 1 unique host, got %d", got)
	}

	c.Add("https://tracker2.example.com:443/announce")
	if got := c.UniqueCount(); got != 2 {
		t.Fatalf("expected 2 unique hosts, got %d", got)
	}

	c.Remove("http://tracker.example.com/announce")
	if got := c.UniqueCount(); got != 2 {
		t.Fatalf("removing one ref of two should not drop the host, got %d", got)
	}

	c.Remove("http://tracker.example.com/announce?passkey=abc")
	if got := c.UniqueCount(); got != 1 {
		t.Fatalf("expected host to drop once last ref removed, got %d", got)
	}
}

func TestHostCounterIgnoresSchemePortPath(t *testing.T) {
	c := NewHostCounter()
	c.Add("http://tracker.example.com/announce")
	c.Add("https://tracker.example.com:8080/scrape")
	if got := c.UniqueCount(); got != 1 {
		t.Fatalf("scheme/port/path should not affect host identity, got %d unique", got)
	}
}

func TestTargetConnectionsFormula(t *testing.T) {
	cases := []struct {
		unique, limit, fdBudget, want int
	}{
		{0, 100, 100, 2},
		{1, 100, 100, 2},
		{5, 100, 100, 10},
		{60, 100, 100, 100},
		{60, 100, 40, 40},
	}
	for _, c := range cases {
		if got := targetConnections(c.unique, c.limit, c.fdBudget); got != c.want {
			t.Errorf("targetConnections(%d,%d,%d) = %d, want %d", c.unique, c.limit, c.fdBudget, got, c.want)
		}
	}
}
