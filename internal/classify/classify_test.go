package classify

import "testing"

func fp(v float64) *float64 { return &v }

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		hints     Hints
		wantScore int
		want      Verdict
	}{
		{
			name:      "fast stable link is lan",
			hints:     Hints{PingMs: fp(1.0), JitterMs: fp(0.1)},
			wantScore: 5,
			want:      Lan,
		},
		{
			name:      "slow jittery link is wifi",
			hints:     Hints{PingMs: fp(15), JitterMs: fp(3)},
			wantScore: -4,
			want:      Wifi,
		},
		{
			name:  "wifi hostname keyword tips the verdict",
			hints: Hints{PingMs: fp(7), Hostname: "johns-iphone"},
			want:  Wifi,
		},
		{
			name:  "lan hostname keyword tips the verdict",
			hints: Hints{PingMs: fp(7), Hostname: "office-nas"},
			want:  Lan,
		},
		{
			name:  "known wifi vendor OUI leans wifi",
			hints: Hints{PingMs: fp(7), JitterMs: fp(1.5), MAC: "00:0C:43:AA:BB:CC"},
			want:  Wifi,
		},
		{
			name:  "borderline score falls back to ping threshold",
			hints: Hints{PingMs: fp(3)},
			want:  Lan,
		},
		{
			name:  "no ping data is unknown",
			hints: Hints{Hostname: "mystery"},
			want:  Unknown,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.hints)
			if got.Verdict != tt.want {
				t.Fatalf("verdict = %s (score %d), want %s", got.Verdict, got.Score, tt.want)
			}
			if tt.wantScore != 0 && got.Score != tt.wantScore {
				t.Fatalf("score = %d, want %d", got.Score, tt.wantScore)
			}
		})
	}
}

func TestClassifyMACCaseInsensitive(t *testing.T) {
	t.Parallel()
	upper := Classify(Hints{PingMs: fp(7), JitterMs: fp(1.5), MAC: "00:0C:43:00:00:00"})
	lower := Classify(Hints{PingMs: fp(7), JitterMs: fp(1.5), MAC: "00:0c:43:00:00:00"})
	if upper.Score != lower.Score {
		t.Fatalf("case-sensitive OUI match: %d vs %d", upper.Score, lower.Score)
	}
}
