package store

import "github.com/Bomussa/Eme/internal/models"

const (
	ActionCall     = "call"
	ActionFinish   = "finish"
	ActionComplete = "complete"
)

var transitionMap = map[string][]string{
	ActionCall:     {models.StatusWaiting},
	ActionFinish:   {models.StatusInService},
	ActionComplete: {models.StatusWaiting, models.StatusInService},
}

var transitionTarget = map[string]string{
	ActionCall:     models.StatusInService,
	ActionFinish:   models.StatusDone,
	ActionComplete: models.StatusDone,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// NextStatus returns the status a ticket moves to under action.
func NextStatus(action string) string {
	return transitionTarget[action]
}
