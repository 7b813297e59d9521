package domain

import "time"

// Movement is an external event (a new docket entry on a monitored case)
// recorded by the ingestion pipeline. Movements arrive out of band from the
// scheduler and drive cache invalidation.
type Movement struct {
	ProcessID string
	Date      time.Time
}
