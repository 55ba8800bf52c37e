package scraper

// PageState is a step of a listing walk.
type PageState int

const (
	StatePending PageState = iota
	StateFetching
	StatePageFailed
	StatePageSucceeded
	StateDone
)

func (s PageState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StatePageFailed:
		return "page_failed"
	case StatePageSucceeded:
		return "page_succeeded"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Paginator drives a listing walk over at most total pages starting at
// start. The page counter only grows and the remaining budget only shrinks,
// so a walk always reaches StateDone within total steps.
type Paginator struct {
	state     PageState
	page      int
	remaining int
	total     int
}

// NewPaginator returns a walk in StatePending. A non-positive start or total
// yields a walk that is already done.
func NewPaginator(start, total int) *Paginator {
	p := &Paginator{state: StatePending, page: start, remaining: total, total: total}
	if start <= 0 || total <= 0 {
		p.state = StateDone
		p.remaining = 0
	}
	return p
}

// Next moves to StateFetching and returns the page to fetch. ok is false
// once the walk is done.
func (p *Paginator) Next() (page int, ok bool) {
	switch p.state {
	case StateDone, StateFetching:
		return 0, false
	}
	if p.remaining <= 0 {
		p.state = StateDone
		return 0, false
	}
	p.state = StateFetching
	return p.page, true
}

// Fail records that the current page could not be processed. The walk
// continues with the next page.
func (p *Paginator) Fail() {
	if p.state != StateFetching {
		return
	}
	p.advance()
	p.state = StatePageFailed
	if p.remaining <= 0 {
		p.state = StateDone
	}
}

// Succeed records a processed page. hasNext reports whether the site offers
// another page.
func (p *Paginator) Succeed(hasNext bool) {
	if p.state != StateFetching {
		return
	}
	p.advance()
	p.state = StatePageSucceeded
	if !hasNext || p.remaining <= 0 {
		p.state = StateDone
	}
}

func (p *Paginator) advance() {
	p.page++
	p.remaining--
}

// Progress reports the percentage for the page currently being fetched, or
// 100 once done.
func (p *Paginator) Progress() float64 {
	if p.state == StateDone {
		return 100
	}
	return ProgressPercent(p.total, p.remaining)
}

func (p *Paginator) State() PageState { return p.state }
func (p *Paginator) Page() int        { return p.page }
func (p *Paginator) Remaining() int   { return p.remaining }
