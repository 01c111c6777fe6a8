package indicators

// CrossSignal reports whether the fast average crossed the slow one on the
// latest point. At most one of the two fields is true per evaluation.
type CrossSignal struct {
	GoldenCross bool
	DeathCross  bool
}

// Crossover compares the last two aligned points of the fast (EMA) and slow
// (SMA) series. Golden: previous fast <= slow and current fast above slow;
// death is the mirror. epsilon is an absolute tolerance absorbing
// floating-point noise at the crossing boundary; a cross only fires once the
// current point clears the slow average by more than epsilon. Returns no
// cross when fewer than two defined points exist on either series.
func Crossover(fast, slow []float64, epsilon float64) CrossSignal {
	if len(fast) < 2 || len(slow) < 2 {
		return CrossSignal{}
	}
	prevFast, currFast := fast[len(fast)-2], fast[len(fast)-1]
	prevSlow, currSlow := slow[len(slow)-2], slow[len(slow)-1]
	if !Defined(prevFast) || !Defined(currFast) || !Defined(prevSlow) || !Defined(currSlow) {
		return CrossSignal{}
	}
	return CrossSignal{
		GoldenCross: prevFast <= prevSlow+epsilon && currFast > currSlow+epsilon,
		DeathCross:  prevFast >= prevSlow-epsilon && currFast < currSlow-epsilon,
	}
}
