package provider

import (
	"context"
	"errors"

	"github.com/travelpay/backend/internal/models"
)

var (
	// ErrNotFound means the requested item does not exist upstream. The
	// caller already paid for the lookup; this is a valid, billable answer.
	ErrNotFound = errors.New("data not found")
	// ErrSourceUnavailable means the upstream could not be reached. Callers
	// are refunded for these.
	ErrSourceUnavailable = errors.New("upstream data source unavailable")
)

// DataProvider answers one query against one target. Params are
// target-specific (border_wait takes "crossing").
type DataProvider interface {
	Fetch(ctx context.Context, target string, params map[string]string) (map[string]any, error)
}

// Target describes a subscribable data feed and the shape of its results,
// used to validate subscription conditions before they are stored.
type Target struct {
	Name   string
	Schema models.Schema
}

const TargetBorderWait = "border_wait"

var Targets = map[string]Target{
	TargetBorderWait: {
		Name: TargetBorderWait,
		Schema: models.Schema{
			"wait_time_minutes": models.FieldNumber,
			"lanes_open":        models.FieldNumber,
			"status":            models.FieldString,
			"crossing":          models.FieldString,
		},
	},
}

func LookupTarget(name string) (Target, bool) {
	t, ok := Targets[name]
	return t, ok
}
