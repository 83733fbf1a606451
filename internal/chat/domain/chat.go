// Package domain defines the types of the conversational advisor: the
// session held between turns, the survey sub-state and the request/response
// shapes of the chat routes.
//
// Turn lifecycle:
//  1. The caller sends an utterance for a session id
//  2. The intent router picks survey continuation, survey start or general query
//  3. Survey turns are answered locally; recommendation and general turns go upstream
//  4. The session is persisted and the reply text returned
package domain

import "time"

// ============================================================
// Chat — request/response between the caller and the advisor
// ============================================================

// ChatRequest is the body of POST /v1/chat/messages.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is returned for every turn, whatever path produced it.
type ChatResponse struct {
	Answer string `json:"answer"`
	Mode   Mode   `json:"mode"`
	Step   int    `json:"step,omitempty"`
}

// LanguageRequest is the body of POST /v1/chat/language.
type LanguageRequest struct {
	Language string `json:"language"`
}

// SessionView is the diagnostic snapshot returned by GET /v1/chat/session.
type SessionView struct {
	SessionID     string `json:"session_id"`
	Language      string `json:"language"`
	Phase         Phase  `json:"phase"`
	Step          int    `json:"step,omitempty"`
	HistoryLength int    `json:"history_length"`
}

// Mode tells the caller which path produced the answer.
type Mode string

const (
	ModeSurvey         Mode = "survey"
	ModeRecommendation Mode = "recommendation"
	ModeGeneral        Mode = "general"
	ModeGreeting       Mode = "greeting"
	ModeFallback       Mode = "fallback"
)

// ============================================================
// Turns — role-tagged history entries
// ============================================================

// Role identifies the author of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one history entry.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Valid reports whether the turn has a known role and some text.
func (t Turn) Valid() bool {
	return (t.Role == RoleUser || t.Role == RoleAgent) && t.Text != ""
}

// TrimHistory keeps the most recent limit turns, oldest first.
func TrimHistory(history []Turn, limit int) []Turn {
	if limit <= 0 {
		return nil
	}
	if len(history) <= limit {
		return history
	}
	out := make([]Turn, limit)
	copy(out, history[len(history)-limit:])
	return out
}

// ============================================================
// Survey — sub-state of an active interview
// ============================================================

// Answer is one stored survey answer, keyed by the stable step key.
type Answer struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// SurveyState tracks an interview in progress. Step is 1-based and always
// points at the question currently awaiting an answer.
type SurveyState struct {
	Step    int      `json:"step"`
	Answers []Answer `json:"answers"`
}

// Lookup returns the answer stored for key.
func (s *SurveyState) Lookup(key string) (string, bool) {
	for _, a := range s.Answers {
		if a.Key == key {
			return a.Text, true
		}
	}
	return "", false
}

// ============================================================
// Session — per-user conversation state
// ============================================================

// Phase is the tagged state of a session.
//
//	Idle       no survey; Survey is nil
//	Surveying  Survey is set and awaits an answer
//	Ready      survey just completed; only observed inside a turn
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSurveying Phase = "surveying"
	PhaseReady     Phase = "ready"
)

// Session is the state kept between turns for one conversation.
type Session struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Language  string       `json:"language"`
	Phase     Phase        `json:"phase"`
	Survey    *SurveyState `json:"survey,omitempty"`
	History   []Turn       `json:"history"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewSession returns an idle session with empty history.
func NewSession(id, userID, language string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		UserID:    userID,
		Language:  language,
		Phase:     PhaseIdle,
		History:   []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ActiveSurvey returns the survey sub-state when one is in progress.
func (s *Session) ActiveSurvey() (*SurveyState, bool) {
	if s.Phase != PhaseSurveying || s.Survey == nil {
		return nil, false
	}
	return s.Survey, true
}

// BeginSurvey replaces any sub-state with a fresh survey at step 1.
func (s *Session) BeginSurvey() *SurveyState {
	s.Phase = PhaseSurveying
	s.Survey = &SurveyState{Step: 1, Answers: []Answer{}}
	return s.Survey
}

// CompleteSurvey drops the survey sub-state and marks the session ready for
// the recommendation hand-off. It returns the collected answers.
func (s *Session) CompleteSurvey() []Answer {
	var answers []Answer
	if s.Survey != nil {
		answers = s.Survey.Answers
	}
	s.Survey = nil
	s.Phase = PhaseReady
	return answers
}

// ClearSurvey returns the session to Idle.
func (s *Session) ClearSurvey() {
	s.Survey = nil
	s.Phase = PhaseIdle
}

// SwitchLanguage sets the language and wipes history and any survey.
func (s *Session) SwitchLanguage(code string) {
	s.Language = code
	s.ClearSurvey()
	s.History = []Turn{}
}

// AppendExchange records a successful upstream exchange and enforces the
// retention bound.
func (s *Session) AppendExchange(utterance, reply string, limit int) {
	s.History = append(s.History,
		Turn{Role: RoleUser, Text: utterance},
		Turn{Role: RoleAgent, Text: reply},
	)
	s.History = TrimHistory(s.History, limit)
}

// Normalize repairs a session loaded from storage: malformed turns are
// dropped, history is clamped and the phase is made consistent with the
// survey sub-state. steps is the number of survey questions.
func (s *Session) Normalize(historyLimit, steps int) {
	clean := make([]Turn, 0, len(s.History))
	for _, t := range s.History {
		if t.Valid() {
			clean = append(clean, t)
		}
	}
	s.History = TrimHistory(clean, historyLimit)
	if s.History == nil {
		s.History = []Turn{}
	}

	switch {
	case s.Survey != nil && s.Survey.Step >= 1 && s.Survey.Step <= steps:
		s.Phase = PhaseSurveying
		if s.Survey.Answers == nil {
			s.Survey.Answers = []Answer{}
		}
	default:
		s.ClearSurvey()
	}
}

// ============================================================
// Completion — reply of the text-generation service
// ============================================================

// Completion is the validated reply of one upstream call.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Retries          int
}

// SessionRequest is the optional body of POST /v1/chat/session. UserID links
// the session to the host application's user so their policies can be read.
type SessionRequest struct {
	UserID string `json:"user_id"`
}

// SessionStarted is returned by POST /v1/chat/session.
type SessionStarted struct {
	ChatResponse
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}
