package timeline

import (
	"context"
	"strings"

	"github.com/warp/people-engine/generic"
)

// LocalDataTimeline keeps country-specific employee fields. Moving an
// employee to another country is a new version like any other change.
type LocalDataTimeline struct {
	*Instance[LocalDataPayload]
}

func NewLocalDataTimeline(temporal *generic.TemporalStore) *LocalDataTimeline {
	return &LocalDataTimeline{
		Instance: &Instance[LocalDataPayload]{Kind: KindLocalData, Temporal: temporal},
	}
}

func (t *LocalDataTimeline) Insert(ctx context.Context, employeeID string, effective generic.TimePoint, p LocalDataPayload) (generic.RecordID, error) {
	p.CountryCode = strings.ToUpper(strings.TrimSpace(p.CountryCode))
	if err := validateStruct(p); err != nil {
		return "", err
	}
	if p.Fields == nil {
		p.Fields = map[string]string{}
	}
	return t.insert(ctx, employeeID, effective, p)
}
