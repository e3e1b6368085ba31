package model

import (
	"testing"
	"time"
)

func TestDigest(t *testing.T) {
	ts := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)
	series := []Bar{
		{Symbol: "A", TF: 60, TS: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Symbol: "A", TF: 60, TS: ts.Add(time.Minute), Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 7},
	}
	base := Digest(series)
	if again := Digest(append([]Bar(nil), series...)); again != base {
		t.Fatalf("digest not stable: %x != %x", again, base)
	}

	revised := append([]Bar(nil), series...)
	revised[1].Close = 500
	if Digest(revised) == base {
		t.Error("revising the latest close must change the digest")
	}

	backfilled := append([]Bar(nil), series...)
	backfilled[0].Volume = 11
	if Digest(backfilled) == base {
		t.Error("revising an older bar must change the digest")
	}

	if Digest(series[:1]) == base {
		t.Error("a shorter window must change the digest")
	}
}

func TestKeysAndChannels(t *testing.T) {
	b := Bar{Symbol: "AAPL", TF: 60}
	if b.Key() != "AAPL:60" {
		t.Errorf("key = %q", b.Key())
	}
	u := BarsUpdated{Symbol: "AAPL", TF: 300}
	if u.Channel() != "ind:bars:AAPL:300" {
		t.Errorf("channel = %q", u.Channel())
	}
}

func TestTimeframes(t *testing.T) {
	labels := map[int]string{30: "30s", 60: "1m", 90: "90s", 300: "5m", 3600: "1h", 5400: "90m", 86400: "1d"}
	for tf, want := range labels {
		if got := TFLabel(tf); got != want {
			t.Errorf("TFLabel(%d) = %q, want %q", tf, got, want)
		}
		back, err := ParseTF(want)
		if err != nil || back != tf {
			t.Errorf("ParseTF(%q) = %d, %v; want %d", want, back, err, tf)
		}
	}
	if tf, err := ParseTF("900"); err != nil || tf != 900 {
		t.Errorf("ParseTF(900) = %d, %v", tf, err)
	}
	for _, bad := range []string{"", "m", "-5m", "x1"} {
		if _, err := ParseTF(bad); err == nil {
			t.Errorf("ParseTF(%q) should fail", bad)
		}
	}
}
