package service_test

import (
	"testing"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/service"
)

func TestIntentRouter_Route(t *testing.T) {
	router := service.NewIntentRouter(locale.Default().Triggers())

	cases := []struct {
		name      string
		utterance string
		active    bool
		want      service.Route
	}{
		{"active survey wins over trigger", "recommend me something", true, service.RouteContinueSurvey},
		{"active survey consumes anything", "what is the weather?", true, service.RouteContinueSurvey},
		{"english trigger", "Can you FIND A POLICY for my dad", false, service.RouteStartSurvey},
		{"hindi trigger in english session", "मुझे कोई पॉलिसी सुझाव दो", false, service.RouteStartSurvey},
		{"telugu trigger", "నాకు ఏ పాలసీ మంచిది", false, service.RouteStartSurvey},
		{"plain question", "What does crop insurance cover?", false, service.RouteGeneralQuery},
		{"empty", "", false, service.RouteGeneralQuery},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := router.Route(tc.utterance, tc.active); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestIntentRouter_IgnoresBlankTriggers(t *testing.T) {
	router := service.NewIntentRouter([]string{"", "   ", "Recommend"})

	if got := router.Route("anything at all", false); got != service.RouteGeneralQuery {
		t.Errorf("blank trigger must not match everything, got %s", got)
	}
	if got := router.Route("please recommend", false); got != service.RouteStartSurvey {
		t.Errorf("expected trigger match, got %s", got)
	}
}
