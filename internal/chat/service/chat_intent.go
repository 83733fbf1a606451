package service

import "strings"

// ============================================================
// IntentRouter — keyword routing of an utterance
// ============================================================

// Route is the path a turn takes through the service.
type Route int

const (
	RouteGeneralQuery Route = iota
	RouteStartSurvey
	RouteContinueSurvey
)

func (r Route) String() string {
	switch r {
	case RouteStartSurvey:
		return "start_survey"
	case RouteContinueSurvey:
		return "continue_survey"
	default:
		return "general_query"
	}
}

// IntentRouter classifies utterances. It holds the union of all languages'
// trigger phrases, so a user can ask for a recommendation in any supported
// language regardless of the session language.
type IntentRouter struct {
	triggers []string
}

// NewIntentRouter builds a router over the given trigger phrases.
func NewIntentRouter(triggers []string) *IntentRouter {
	lowered := make([]string, 0, len(triggers))
	for _, t := range triggers {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	return &IntentRouter{triggers: lowered}
}

// Route picks the path for an utterance. An active survey always consumes
// the utterance as the answer to its current question.
func (r *IntentRouter) Route(utterance string, surveyActive bool) Route {
	if surveyActive {
		return RouteContinueSurvey
	}
	lower := strings.ToLower(utterance)
	for _, t := range r.triggers {
		if strings.Contains(lower, t) {
			return RouteStartSurvey
		}
	}
	return RouteGeneralQuery
}
