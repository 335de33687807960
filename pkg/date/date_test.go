package date

import (
	"testing"
	"time"
)

func TestEpochMillis(t *testing.T) {
	t.Parallel()

	data := []struct {
		testcase string
		t        time.Time
		want     int64
	}{
		{"epoch", time.Unix(0, 0), 0},
		{"whole seconds", time.Unix(1633046400, 0), 1633046400000},
		{"sub millisecond is truncated", time.Unix(1, 999999), 1000},
		{"zone does not matter", time.Date(2021, 10, 1, 2, 0, 0, 0, time.FixedZone("CEST", 7200)), 1633046400000},
	}

	for _, d := range data {
		d := d
		t.Run(d.testcase, func(t *testing.T) {
			t.Parallel()
			if got := EpochMillis(d.t); got != d.want {
				t.Fatalf("Expected %d but got %d", d.want, got)
			}
		})
	}
}

func TestNowGMT(t *testing.T) {
	t.Parallel()

	if loc := NowGMT().Location(); loc != time.UTC {
		t.Fatalf("Expected UTC location but got %v", loc)
	}
}
