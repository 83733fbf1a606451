// Package service — chat_strategy_survey.go implements the recommendation
// interview.
//
// ============================================================
// SURVEY — K questions, one per turn
// ============================================================
//
// States:
//
//	Idle                  no survey sub-state
//	AwaitingAnswer(step)  step in 1..K, question `step` was the last one asked
//	Complete              answers handed to the prompt builder, sub-state cleared
//
// An invalid answer keeps the step, stores nothing and returns a localized
// corrective message. A valid answer is stored under the step key; the last
// one completes the survey.
package service

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
)

// OutcomeKind tags the result of a survey transition.
type OutcomeKind int

const (
	// OutcomeQuestion means Reply is the question for Step.
	OutcomeQuestion OutcomeKind = iota
	// OutcomeInvalid means the answer was rejected; Reply is the corrective message.
	OutcomeInvalid
	// OutcomeCompleted means the last answer was stored and Answers is ready.
	OutcomeCompleted
)

// Outcome is what the engine hands back to the turn handler.
type Outcome struct {
	Kind    OutcomeKind
	Step    int
	Reply   string
	Answers []domain.Answer
}

// SurveyEngine drives the interview over the locale tables.
type SurveyEngine struct {
	bundle *locale.Bundle
}

// NewSurveyEngine creates the engine.
func NewSurveyEngine(bundle *locale.Bundle) *SurveyEngine {
	return &SurveyEngine{bundle: bundle}
}

// Start replaces any sub-state with a fresh survey and asks question 1.
func (e *SurveyEngine) Start(sess *domain.Session) Outcome {
	state := sess.BeginSurvey()
	return Outcome{
		Kind:  OutcomeQuestion,
		Step:  state.Step,
		Reply: e.bundle.Question(sess.Language, state.Step),
	}
}

// Answer consumes the utterance as the answer to the current question.
// The session must have an active survey.
func (e *SurveyEngine) Answer(sess *domain.Session, text string) Outcome {
	state, ok := sess.ActiveSurvey()
	if !ok {
		return e.Start(sess)
	}

	step, ok := e.bundle.Step(state.Step)
	if !ok {
		// Out-of-range step; restart rather than pointing past the end.
		return e.Start(sess)
	}

	// Rules see the trimmed text; the answer keeps what the user typed.
	if msg, valid := e.validate(sess.Language, step, strings.TrimSpace(text)); !valid {
		return Outcome{Kind: OutcomeInvalid, Step: state.Step, Reply: msg}
	}

	state.Answers = append(state.Answers, domain.Answer{Key: step.Key, Text: text})

	if state.Step >= e.bundle.StepCount() {
		return Outcome{
			Kind:    OutcomeCompleted,
			Step:    state.Step,
			Answers: sess.CompleteSurvey(),
		}
	}

	state.Step++
	return Outcome{
		Kind:  OutcomeQuestion,
		Step:  state.Step,
		Reply: e.bundle.Question(sess.Language, state.Step),
	}
}

// validate returns the corrective message when text breaks the step rule.
func (e *SurveyEngine) validate(lang string, step locale.Step, text string) (string, bool) {
	switch step.Rule.Kind {
	case locale.RuleNumericMin:
		n, ok := parseNumber(text)
		if !ok {
			return e.bundle.Message(lang, locale.MsgNumericFormat, nil), false
		}
		if n < int64(step.Rule.Min) {
			return e.bundle.Message(lang, locale.MsgMinValue+"."+step.Key, map[string]string{
				"min": strconv.Itoa(step.Rule.Min),
			}), false
		}
	case locale.RuleMinLength:
		if utf8.RuneCountInString(text) < step.Rule.Min {
			return e.bundle.Message(lang, locale.MsgTooShort, nil), false
		}
	}
	return "", true
}

// Zero code points of the decimal digit blocks accepted besides ASCII.
var digitZeros = []rune{
	0x0966, // Devanagari
	0x09E6, // Bengali
	0x0A66, // Gurmukhi
	0x0AE6, // Gujarati
	0x0B66, // Odia
	0x0BE6, // Tamil
	0x0C66, // Telugu
	0x0CE6, // Kannada
	0x0D66, // Malayalam
}

func digitValue(r rune) (int64, bool) {
	if r >= '0' && r <= '9' {
		return int64(r - '0'), true
	}
	for _, z := range digitZeros {
		if r >= z && r <= z+9 {
			return int64(r - z), true
		}
	}
	return 0, false
}

// parseNumber reads the first run of digits in text. Commas between digits
// are thousands separators ("1,50,000"); anything else ends the run, so a
// decimal part is ignored. Runs longer than 15 digits are rejected.
func parseNumber(text string) (int64, bool) {
	runes := []rune(text)
	start := -1
	for i, r := range runes {
		if _, ok := digitValue(r); ok {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}

	var n int64
	digits := 0
	for i := start; i < len(runes); i++ {
		r := runes[i]
		if v, ok := digitValue(r); ok {
			digits++
			if digits > 15 {
				return 0, false
			}
			n = n*10 + v
			continue
		}
		if r == ',' && i+1 < len(runes) {
			if _, ok := digitValue(runes[i+1]); ok {
				continue
			}
		}
		break
	}
	return n, true
}
