package network

// progressReporter turns byte counts into percentages for a caller
// callback. Intermediate values are capped at 99 so that 100 is reported
// only by complete, exactly once.
type progressReporter struct {
	fn    func(int)
	total int64
	last  int
	done  bool
}

func newProgressReporter(fn func(int), total int64) *progressReporter {
	return &progressReporter{fn: fn, total: total}
}

// update reports progress after n of total bytes. Not safe for concurrent
// use; callers serialize.
func (p *progressReporter) update(n int64) {
	if p.fn == nil || p.done {
		return
	}

	pct := 0
	if p.total > 0 {
		pct = int(n * 100 / p.total)
	}

	pct = min(max(pct, p.last), 99)
	p.last = pct
	p.fn(pct)
}

// complete reports 100 once.
func (p *progressReporter) complete() {
	if p.fn == nil || p.done {
		return
	}

	p.done = true
	p.last = 100
	p.fn(100)
}
