// Package locale loads the conversation tables of the advisor: supported
// languages, survey steps and their localized questions, user-facing
// messages, survey trigger phrases and the recommendation matching rules.
//
// The tables live in locales.yaml and are embedded into the binary, so adding
// a language or a trigger phrase never touches Go code.
package locale

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales.yaml
var embedded []byte

// Message keys.
const (
	MsgGreeting      = "greeting"
	MsgNumericFormat = "numeric_format"
	MsgMinValue      = "min_value"
	MsgTooShort      = "too_short"
	MsgRefusal       = "refusal"
	MsgRateLimited   = "rate_limited"
	MsgUpstream      = "upstream"
	MsgMalformed     = "malformed"
	MsgNetwork       = "network"
	MsgTimeout       = "timeout"
)

// Validation rule kinds for survey steps.
const (
	RuleFree       = "free"
	RuleMinLength  = "min_length"
	RuleNumericMin = "numeric_min"
)

// Rule is the validation applied to the answer of one step.
type Rule struct {
	Kind string `yaml:"kind"`
	Min  int    `yaml:"min"`
}

// Step is one survey question slot, identified by a stable key.
type Step struct {
	Key  string `yaml:"key"`
	Rule Rule   `yaml:"rule"`
}

// MatchRule maps keywords found in one step's answer to catalog categories.
type MatchRule struct {
	Step       string   `yaml:"step"`
	Keywords   []string `yaml:"keywords"`
	Categories []string `yaml:"categories"`
}

// Matching is the rule table used to derive categories from survey answers.
type Matching struct {
	Default []string    `yaml:"default"`
	Rules   []MatchRule `yaml:"rules"`
}

// Language is a supported locale code and its display name.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Bundle is the parsed, validated set of tables.
type Bundle struct {
	DefaultLanguage string                       `yaml:"default"`
	Languages       map[string]string            `yaml:"languages"`
	Steps           []Step                       `yaml:"steps"`
	Questions       map[string][]string          `yaml:"questions"`
	Messages        map[string]map[string]string `yaml:"messages"`
	TriggerPhrases  map[string][]string          `yaml:"triggers"`
	Matching        Matching                     `yaml:"matching"`
}

// Default returns the embedded bundle. It panics if the embedded tables are
// invalid, which is a build defect.
func Default() *Bundle {
	b, err := Parse(embedded)
	if err != nil {
		panic("locale: embedded tables invalid: " + err.Error())
	}
	return b
}

// SetDefault changes the fallback language. The language must carry its own
// questions and messages.
func (b *Bundle) SetDefault(code string) error {
	prev := b.DefaultLanguage
	b.DefaultLanguage = code
	if err := b.validate(); err != nil {
		b.DefaultLanguage = prev
		return err
	}
	return nil
}

// Parse decodes and validates a YAML bundle.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode locale tables: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Bundle) validate() error {
	if len(b.Steps) == 0 {
		return fmt.Errorf("locale: no survey steps defined")
	}
	if _, ok := b.Languages[b.DefaultLanguage]; !ok {
		return fmt.Errorf("locale: default language %q is not declared", b.DefaultLanguage)
	}
	if _, ok := b.Questions[b.DefaultLanguage]; !ok {
		return fmt.Errorf("locale: default language %q has no questions", b.DefaultLanguage)
	}
	if _, ok := b.Messages[b.DefaultLanguage]; !ok {
		return fmt.Errorf("locale: default language %q has no messages", b.DefaultLanguage)
	}

	keys := make(map[string]bool, len(b.Steps))
	for _, s := range b.Steps {
		if s.Key == "" {
			return fmt.Errorf("locale: survey step without key")
		}
		if keys[s.Key] {
			return fmt.Errorf("locale: duplicate survey step %q", s.Key)
		}
		keys[s.Key] = true
	}

	// Question count and order must be language-invariant.
	for lang, qs := range b.Questions {
		if _, ok := b.Languages[lang]; !ok {
			return fmt.Errorf("locale: questions for undeclared language %q", lang)
		}
		if len(qs) != len(b.Steps) {
			return fmt.Errorf("locale: language %q has %d questions, want %d", lang, len(qs), len(b.Steps))
		}
	}

	for _, r := range b.Matching.Rules {
		if !keys[r.Step] {
			return fmt.Errorf("locale: matching rule refers to unknown step %q", r.Step)
		}
		if len(r.Categories) == 0 {
			return fmt.Errorf("locale: matching rule for %q has no categories", r.Step)
		}
	}
	if len(b.Matching.Default) == 0 {
		return fmt.Errorf("locale: matching needs a default category set")
	}
	return nil
}

// Supported reports whether code is a declared language.
func (b *Bundle) Supported(code string) bool {
	_, ok := b.Languages[code]
	return ok
}

// Resolve returns code when supported, the default language otherwise.
func (b *Bundle) Resolve(code string) string {
	if b.Supported(code) {
		return code
	}
	return b.DefaultLanguage
}

// LanguageName returns the display name used in prompts.
func (b *Bundle) LanguageName(code string) string {
	if name, ok := b.Languages[code]; ok {
		return name
	}
	return b.Languages[b.DefaultLanguage]
}

// List returns all supported languages sorted by code, default first.
func (b *Bundle) List() []Language {
	out := make([]Language, 0, len(b.Languages))
	for code, name := range b.Languages {
		out = append(out, Language{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code == b.DefaultLanguage {
			return true
		}
		if out[j].Code == b.DefaultLanguage {
			return false
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// StepCount is K, the number of survey questions.
func (b *Bundle) StepCount() int {
	return len(b.Steps)
}

// Step returns the 1-based survey step.
func (b *Bundle) Step(step int) (Step, bool) {
	if step < 1 || step > len(b.Steps) {
		return Step{}, false
	}
	return b.Steps[step-1], true
}

// Question returns the localized text for a 1-based step. Languages without
// their own question set use the default language's questions.
func (b *Bundle) Question(lang string, step int) string {
	if step < 1 || step > len(b.Steps) {
		return ""
	}
	qs, ok := b.Questions[lang]
	if !ok {
		qs = b.Questions[b.DefaultLanguage]
	}
	return qs[step-1]
}

// Message returns a localized message. Placeholders of the form {name} are
// replaced from args. A key of the form "base.variant" falls back to "base".
func (b *Bundle) Message(lang, key string, args map[string]string) string {
	text := b.lookup(lang, key)
	if text == "" {
		if i := strings.IndexByte(key, '.'); i > 0 {
			text = b.lookup(lang, key[:i])
		}
	}
	for k, v := range args {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}

func (b *Bundle) lookup(lang, key string) string {
	if msgs, ok := b.Messages[lang]; ok {
		if text, ok := msgs[key]; ok {
			return text
		}
	}
	return b.Messages[b.DefaultLanguage][key]
}

// Triggers returns the union of all languages' trigger phrases, lowercased.
func (b *Bundle) Triggers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, phrases := range b.TriggerPhrases {
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
