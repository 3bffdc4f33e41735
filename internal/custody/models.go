package custody

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Event is one link in a container's chain of custody. Events are
// append-only: the ledger exposes no update or delete path. Seq is the
// event's 1-based position in its container's chain; the store enforces
// uniqueness per container, so two transfers extending the same chain end
// cannot both commit.
type Event struct {
	ID          id.EventID     `json:"id"`
	ContainerID id.ContainerID `json:"container_id"`
	Seq         int64          `json:"seq"`
	From        id.CustodianID `json:"from"`
	To          id.CustodianID `json:"to"`
	Location    string         `json:"location"`
	Timestamp   time.Time      `json:"timestamp"`
}

func newEvent(eventID id.EventID, containerID id.ContainerID, from, to id.CustodianID, location string, at time.Time) (Event, error) {
	if from.IsNil() || to.IsNil() {
		return Event{}, dErrors.New(dErrors.CodeValidation, "transfer requires both custodians")
	}
	if from == to {
		return Event{}, dErrors.New(dErrors.CodeValidation, "transfer to the same custodian")
	}
	if location == "" {
		return Event{}, dErrors.New(dErrors.CodeValidation, "transfer location is required")
	}
	return Event{
		ID:          eventID,
		ContainerID: containerID,
		From:        from,
		To:          to,
		Location:    location,
		Timestamp:   at,
	}, nil
}

// ContinuityPolicy controls how a continuity violation is handled.
type ContinuityPolicy string

const (
	// ContinuityAdvisory records the offending transfer, marks the container's
	// chain broken, and reports the violation to the caller. The physical
	// hand-off happened; refusing to record it would falsify the ledger.
	ContinuityAdvisory ContinuityPolicy = "advisory"

	// ContinuityStrict refuses the transfer outright. Sites that require a
	// corrected hand-off before anything is recorded run in this mode.
	ContinuityStrict ContinuityPolicy = "strict"
)

func (p ContinuityPolicy) IsValid() bool {
	return p == ContinuityAdvisory || p == ContinuityStrict
}
