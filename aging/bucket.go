package aging

import (
	"time"

	"github.com/mmdatafocus/retail_dashboard/season"
)

type YearBucket string

const (
	Bucket1Y     YearBucket = "1y"
	Bucket2Y     YearBucket = "2y"
	Bucket3YPlus YearBucket = "3y+"
)

// Buckets lists every bucket in display order.
var Buckets = []YearBucket{Bucket1Y, Bucket2Y, Bucket3YPlus}

// BucketFor classifies code relative to the season of asOf. Only seasons of the
// same half as asOf are bucketed; current and future seasons are excluded.
func BucketFor(code season.Code, asOf time.Time) (YearBucket, bool) {
	cur := season.FromDate(asOf)
	if code.IsZero() || code.Half != cur.Half {
		return "", false
	}
	// same-half generations always differ by an even number of half years
	gap := (cur.Generation() - code.Generation()) / 2
	switch {
	case gap <= 0:
		return "", false
	case gap == 1:
		return Bucket1Y, true
	case gap == 2:
		return Bucket2Y, true
	default:
		return Bucket3YPlus, true
	}
}
