package align

import (
	"math"
	"slices"

	"github.com/MrWong99/shadowalign/pkg/vad"
)

// normSeg is a segment with its edges expressed as a fraction of its side's
// speech span.
type normSeg struct{ start, end float64 }

func normalise(segs []vad.Segment) []normSeg {
	on, end := span(segs)
	width := float64(max(1, end-on))
	out := make([]normSeg, len(segs))
	for i, s := range segs {
		out[i] = normSeg{
			start: float64(s.Start-on) / width,
			end:   float64(s.End-on) / width,
		}
	}
	return out
}

// distance is the mean of the onset and offset distances, in [0, 1].
func distance(a, b normSeg) float64 {
	return (math.Abs(a.start-b.start) + math.Abs(a.end-b.end)) / 2
}

type move uint8

const (
	moveMatch move = iota
	moveSkipTarget
	moveSkipAttempt
)

func alignCorrespondence(target, attempt []vad.Segment, cfg Config) Mapping {
	nt, na := normalise(target), normalise(attempt)
	m := Mapping{Strategy: StrategyCorrespondence}

	if len(nt) == len(na) {
		m.Pairs = make([]Pair, len(nt))
		for i := range nt {
			m.Pairs[i] = Pair{TargetIndex: i, AttemptIndex: i}
			m.Cost += cfg.TimingWeight * distance(nt[i], na[i])
		}
		return m
	}

	m.Pairs, m.Cost = editAlign(nt, na, cfg.UnmatchedPenalty, cfg.TimingWeight)
	return m
}

// editAlign finds the minimum-cost monotonic alignment of two segment
// sequences. Ties prefer a match, then skipping a target segment, then
// skipping an attempt segment.
func editAlign(target, attempt []normSeg, skip, weight float64) ([]Pair, float64) {
	n, m := len(target), len(attempt)
	cost := make([][]float64, n+1)
	moves := make([][]move, n+1)
	for i := range cost {
		cost[i] = make([]float64, m+1)
		moves[i] = make([]move, m+1)
	}
	for i := 1; i <= n; i++ {
		cost[i][0] = float64(i) * skip
		moves[i][0] = moveSkipTarget
	}
	for j := 1; j <= m; j++ {
		cost[0][j] = float64(j) * skip
		moves[0][j] = moveSkipAttempt
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			best, mv := cost[i-1][j-1]+weight*distance(target[i-1], attempt[j-1]), moveMatch
			if c := cost[i-1][j] + skip; c < best {
				best, mv = c, moveSkipTarget
			}
			if c := cost[i][j-1] + skip; c < best {
				best, mv = c, moveSkipAttempt
			}
			cost[i][j], moves[i][j] = best, mv
		}
	}

	pairs := make([]Pair, 0, max(n, m))
	for i, j := n, m; i > 0 || j > 0; {
		switch moves[i][j] {
		case moveMatch:
			pairs = append(pairs, Pair{TargetIndex: i - 1, AttemptIndex: j - 1})
			i, j = i-1, j-1
		case moveSkipTarget:
			pairs = append(pairs, Pair{TargetIndex: i - 1, AttemptIndex: Unmatched})
			i--
		case moveSkipAttempt:
			pairs = append(pairs, Pair{TargetIndex: Unmatched, AttemptIndex: j - 1})
			j--
		}
	}
	slices.Reverse(pairs)
	return pairs, cost[n][m]
}
