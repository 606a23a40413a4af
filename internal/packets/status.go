package packets

import "tradeflow/internal/models"

// yieldsTo lists, for each status, the statuses allowed to replace it.
// Closed yields to nothing.
var yieldsTo = map[models.PacketStatus][]models.PacketStatus{
	models.StatusCandidate: {models.StatusPlanned, models.StatusAlerted, models.StatusExecuted, models.StatusClosed},
	models.StatusPlanned:   {models.StatusAlerted, models.StatusExecuted, models.StatusClosed},
	models.StatusAlerted:   {models.StatusExecuted, models.StatusClosed},
	models.StatusExecuted:  {models.StatusClosed},
	models.StatusClosed:    nil,
}

// MergeStatus returns the status a packet holds after seeing incoming.
// Unknown incoming values never replace a known status.
func MergeStatus(current, incoming models.PacketStatus) models.PacketStatus {
	if !incoming.Valid() {
		return current
	}
	if !current.Valid() {
		return incoming
	}
	for _, s := range yieldsTo[current] {
		if s == incoming {
			return incoming
		}
	}
	return current
}

// AtLeast raises current to floor unless it is already past it.
func AtLeast(current, floor models.PacketStatus) models.PacketStatus {
	return MergeStatus(current, floor)
}

// ReachedAtLeast reports whether s is floor or a later stage.
func ReachedAtLeast(s, floor models.PacketStatus) bool {
	return s.Valid() && MergeStatus(floor, s) == s
}

// StatusFromEventType maps an event type to the lifecycle stage it implies.
// A valid override takes precedence.
func StatusFromEventType(t models.EventType, override string) (models.PacketStatus, bool) {
	if s := models.PacketStatus(override); s.Valid() {
		return s, true
	}
	switch t {
	case models.EventSignalCreated, models.EventSignalUpdated,
		models.EventCandidateCreated, models.EventCandidatePromoted:
		return models.StatusCandidate, true
	case models.EventTradePlanCreated, models.EventTradePlanUpdated:
		return models.StatusPlanned, true
	case models.EventAlertCreated, models.EventAlertTriggered:
		return models.StatusAlerted, true
	case models.EventTradeExecuted, models.EventTradeUpdated:
		return models.StatusExecuted, true
	case models.EventTradeClosed:
		return models.StatusClosed, true
	}
	return "", false
}
