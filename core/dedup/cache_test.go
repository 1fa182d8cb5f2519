package dedup

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestFingerprint(t *testing.T) {
	testCases := []struct {
		name           string
		userText       string
		processingTime float64
		responseText   string
		expected       string
	}{
		{name: "floors processing time", userText: "hello", processingTime: 1.2, responseText: "Hi there!", expected: "hello-1-Hi there!"},
		{name: "empty user text", userText: "", processingTime: 0.4, responseText: "Welcome", expected: "-0-Welcome"},
		{name: "integral time", userText: "a", processingTime: 3, responseText: "b", expected: "a-3-b"},
		{name: "not a number", userText: "a", processingTime: nan(), responseText: "b", expected: "a-0-b"},
		{
			name:           "truncates response",
			userText:       "q",
			processingTime: 2.9,
			responseText:   strings.Repeat("x", 50) + "tail",
			expected:       "q-2-" + strings.Repeat("x", 50),
		},
		{
			name:           "truncates by character not byte",
			userText:       "q",
			processingTime: 1,
			responseText:   strings.Repeat("é", 60),
			expected:       "q-1-" + strings.Repeat("é", 50),
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := Fingerprint(testCase.userText, testCase.processingTime, testCase.responseText)
			if got != testCase.expected {
				t.Fatalf("expected fingerprint %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestFingerprintIgnoresResponseTailAndFraction(t *testing.T) {
	a := Fingerprint("hello", 1.2, strings.Repeat("r", 50)+" first ending")
	b := Fingerprint("hello", 1.9, strings.Repeat("r", 50)+" second ending")
	if a != b {
		t.Fatalf("expected equal fingerprints, got %q and %q", a, b)
	}
}

func TestObserveSuppressesRepeats(t *testing.T) {
	c := New(DefaultSize, 0)

	if seen := c.Observe("hello-1-Hi there!"); seen {
		t.Fatalf("expected first observation to be new")
	}
	if seen := c.Observe("hello-1-Hi there!"); !seen {
		t.Fatalf("expected second observation to be a repeat")
	}
	if c.Len() != 1 {
		t.Fatalf("expected one fingerprint, got %d", c.Len())
	}
}

func TestCacheEvictsLeastRecentlySeen(t *testing.T) {
	c := New(2, 0)

	c.Observe("a")
	c.Observe("b")
	c.Observe("a") // refresh a
	c.Observe("c") // evicts b

	if !c.Contains("a") {
		t.Fatalf("expected a to survive as most recently seen")
	}
	if c.Contains("b") {
		t.Fatalf("expected b to be evicted")
	}
	if !c.Contains("c") {
		t.Fatalf("expected c to be present")
	}
}

func TestCacheExpiresFingerprints(t *testing.T) {
	defer goleak.VerifyNone(t)

	now := time.Unix(1700000000, 0)
	c := New(DefaultSize, time.Minute)
	c.now = func() time.Time { return now }

	c.Observe("turn")

	now = now.Add(30 * time.Second)
	if seen := c.Observe("turn"); !seen {
		t.Fatalf("expected fingerprint to be suppressed within its ttl")
	}

	// expiry counts from the first observation, not the latest repeat
	now = now.Add(30 * time.Second)
	if c.Contains("turn") {
		t.Fatalf("expected fingerprint to be expired after the ttl")
	}
	if seen := c.Observe("turn"); seen {
		t.Fatalf("expected expired fingerprint to be treated as new")
	}
	if seen := c.Observe("turn"); !seen {
		t.Fatalf("expected re-recorded fingerprint to be suppressed again")
	}
}

func TestUnboundedCacheKeepsEverything(t *testing.T) {
	c := New(0, 0)
	for i := range 3 * DefaultSize {
		c.Observe(strconv.Itoa(i))
	}

	if c.Len() != 3*DefaultSize {
		t.Fatalf("expected %d fingerprints, got %d", 3*DefaultSize, c.Len())
	}
	if !c.Contains("0") {
		t.Fatalf("expected the first fingerprint to be kept")
	}
}

func TestPurgeForgetsEverything(t *testing.T) {
	c := New(DefaultSize, 0)
	c.Observe("a")
	c.Observe("b")

	c.Purge()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
	if seen := c.Observe("a"); seen {
		t.Fatalf("expected purged fingerprint to be new again")
	}
}

func TestNewNormalizesNegativeBounds(t *testing.T) {
	c := New(-1, -time.Second)
	if c.Size() != DefaultSize {
		t.Fatalf("expected default size %d, got %d", DefaultSize, c.Size())
	}
	if c.TTL() != 0 {
		t.Fatalf("expected ttl 0, got %v", c.TTL())
	}
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
