package hetpaxos_test

import (
	"testing"
	"time"

	"github.com/relab/hetpaxos"
)

func hashWithPrefix(b ...byte) (h hetpaxos.Hash) {
	copy(h[:], b)
	return h
}

func TestBallotCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b hetpaxos.Ballot
		want int
	}{
		{
			name: "EarlierSeconds",
			a:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 1}},
			b:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 2}},
			want: -1,
		},
		{
			name: "EarlierNanos",
			a:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 5, Nanos: 10}},
			b:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 5, Nanos: 20}},
			want: -1,
		},
		{
			name: "TimestampDominatesHash",
			a:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 1}, ValueHash: hashWithPrefix(0xff)},
			b:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 2}, ValueHash: hashWithPrefix(0x00)},
			want: -1,
		},
		{
			name: "HashBreaksTie",
			a:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 3}, ValueHash: hashWithPrefix(0x01)},
			b:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 3}, ValueHash: hashWithPrefix(0x02)},
			want: -1,
		},
		{
			name: "HashTieBreakIsBigEndian",
			a:    hetpaxos.Ballot{ValueHash: hashWithPrefix(0x00, 0xff)},
			b:    hetpaxos.Ballot{ValueHash: hashWithPrefix(0x01, 0x00)},
			want: -1,
		},
		{
			name: "Equal",
			a:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 3, Nanos: 4}, ValueHash: hashWithPrefix(0x05)},
			b:    hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 3, Nanos: 4}, ValueHash: hashWithPrefix(0x05)},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(a, b): got %d, want %d", got, tt.want)
			}
			if got := tt.b.Compare(tt.a); got != -tt.want {
				t.Errorf("Compare(b, a): got %d, want %d", got, -tt.want)
			}
		})
	}
}

func TestBallotCompareIsTransitive(t *testing.T) {
	ballots := []hetpaxos.Ballot{
		{Timestamp: hetpaxos.Timestamp{Seconds: 1}, ValueHash: hashWithPrefix(0x09)},
		{Timestamp: hetpaxos.Timestamp{Seconds: 1, Nanos: 1}, ValueHash: hashWithPrefix(0x01)},
		{Timestamp: hetpaxos.Timestamp{Seconds: 2}, ValueHash: hashWithPrefix(0x00)},
		{Timestamp: hetpaxos.Timestamp{Seconds: 2}, ValueHash: hashWithPrefix(0x80)},
	}
	// ballots is sorted ascending; every pair must agree with the index order.
	for i := range ballots {
		for j := range ballots {
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			if got := ballots[i].Compare(ballots[j]); got != want {
				t.Errorf("Compare(ballots[%d], ballots[%d]): got %d, want %d", i, j, got, want)
			}
		}
	}
}

func TestNewBallotUsesWallClock(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	b := hetpaxos.NewBallot(now, hashWithPrefix(0x01))
	if b.Timestamp.Seconds != 1700000000 || b.Timestamp.Nanos != 123456789 {
		t.Errorf("NewBallot timestamp: got %d.%d, want 1700000000.123456789", b.Timestamp.Seconds, b.Timestamp.Nanos)
	}
}

func TestExponentialBackoff(t *testing.T) {
	eb := hetpaxos.ExponentialBackoff{Base: 100 * time.Millisecond, ExponentBase: 2, MaxExponent: 3}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond, // capped
	}
	for attempt, w := range want {
		if got := eb.Duration(uint(attempt)); got != w {
			t.Errorf("Duration(%d): got %v, want %v", attempt, got, w)
		}
	}
}
