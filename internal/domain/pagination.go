package domain

// Audit listings are ordered newest first and paged by a plain row offset.
// Pages never leave the process, so there is no opaque cursor.

const (
	// DefaultAuditPage is the page size used when a query names none.
	DefaultAuditPage = 100
	// MaxAuditPage caps a single List call; full scans walk several pages.
	MaxAuditPage = 1000
)

// PageRequest selects one window of an audit listing.
type PageRequest struct {
	MaxResults int
	Skip       int
}

// Offset is the number of rows to skip, never negative.
func (p PageRequest) Offset() int {
	return max(p.Skip, 0)
}

// Limit returns the effective page size, clamped to [1, MaxAuditPage].
func (p PageRequest) Limit() int {
	if p.MaxResults <= 0 {
		return DefaultAuditPage
	}
	return min(p.MaxResults, MaxAuditPage)
}

// Next returns the window following p. ok is false once that window would
// start at or past total.
func (p PageRequest) Next(total int64) (next PageRequest, ok bool) {
	next = PageRequest{MaxResults: p.MaxResults, Skip: p.Offset() + p.Limit()}
	return next, int64(next.Skip) < total
}
