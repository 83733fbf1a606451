package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"
)

// ============================================================
// PromptBuilder — self-contained instruction blocks
// ============================================================
//
// Every prompt carries the persona, the reply-language directive, the
// catalog snapshot and the output markup contract. The completion service
// keeps no memory between calls.

// NoOfferingsSentinel replaces the catalog section when no item is active.
const NoOfferingsSentinel = "NO_ACTIVE_OFFERINGS"

const (
	personaName      = "Gramin Suraksha Mitra"
	descriptionLimit = 120
)

// Holdings is the record-store context for a general query.
type Holdings struct {
	Items       []maindomain.Holding
	Unavailable bool
}

// PromptBuilder composes prompts from the locale tables.
type PromptBuilder struct {
	bundle *locale.Bundle
	now    func() time.Time
}

// NewPromptBuilder creates a builder.
func NewPromptBuilder(bundle *locale.Bundle) *PromptBuilder {
	return &PromptBuilder{bundle: bundle, now: time.Now}
}

// Recommendation builds the prompt sent once the survey completes. answers
// must be in question order; catalog is the matched snapshot.
func (b *PromptBuilder) Recommendation(lang string, catalog []maindomain.CatalogItem, answers []domain.Answer, utterance string) string {
	var sb strings.Builder

	b.writePersona(&sb)
	b.writeLanguage(&sb, lang)
	writeCatalog(&sb, catalog)

	sb.WriteString("USER PROFILE (survey answers, in question order):\n")
	for i, a := range answers {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, a.Key, oneLine(a.Text))
	}
	sb.WriteString("\n")

	sb.WriteString("TASK:\n")
	sb.WriteString("Recommend the 1 to 3 products from CATALOG that best fit this profile.\n")
	sb.WriteString("Only recommend products listed in CATALOG and refer to them by their exact id.\n")
	fmt.Fprintf(&sb, "If CATALOG is %s, say that no products are available right now and output no product blocks.\n\n", NoOfferingsSentinel)

	writeMarkupContract(&sb, true)

	sb.WriteString("USER MESSAGE:\n")
	sb.WriteString(oneLine(utterance))
	sb.WriteString("\n")
	return sb.String()
}

// GeneralQuery builds the prompt for a free-form question.
func (b *PromptBuilder) GeneralQuery(lang string, catalog []maindomain.CatalogItem, holdings Holdings, utterance string) string {
	var sb strings.Builder

	b.writePersona(&sb)
	b.writeLanguage(&sb, lang)

	sb.WriteString("SCOPE:\n")
	sb.WriteString("Only answer questions about insurance, the products in CATALOG or the user's own policies.\n")
	fmt.Fprintf(&sb, "For any other topic reply with exactly this sentence and nothing else: \"%s\"\n\n",
		b.bundle.Message(lang, locale.MsgRefusal, nil))

	sb.WriteString("STYLE:\n")
	sb.WriteString("Answer in 2 to 4 short sentences, without lists, in simple words a rural customer understands.\n\n")

	writeCatalog(&sb, catalog)
	b.writeHoldings(&sb, holdings)
	writeMarkupContract(&sb, false)

	sb.WriteString("USER MESSAGE:\n")
	sb.WriteString(oneLine(utterance))
	sb.WriteString("\n")
	return sb.String()
}

func (b *PromptBuilder) writePersona(sb *strings.Builder) {
	fmt.Fprintf(sb, "You are %s, a friendly insurance advisor for families, farmers and small businesses in rural India.\n\n", personaName)
}

func (b *PromptBuilder) writeLanguage(sb *strings.Builder, lang string) {
	name := b.bundle.LanguageName(lang)
	sb.WriteString("LANGUAGE:\n")
	fmt.Fprintf(sb, "Reply ONLY in %s (language code %q). No other language is acceptable, even if the user writes in another language.\n", name, lang)
	sb.WriteString("Keep product ids, prices and the markup markers exactly as given.\n\n")
}

func writeCatalog(sb *strings.Builder, catalog []maindomain.CatalogItem) {
	sb.WriteString("CATALOG:\n")
	active := maindomain.ActiveOnly(catalog)
	if len(active) == 0 {
		sb.WriteString(NoOfferingsSentinel)
		sb.WriteString("\n\n")
		return
	}
	for _, it := range active {
		fmt.Fprintf(sb, "- id=%s | name=%s | category=%s | price=₹%s | about=%s\n",
			it.ID, oneLine(it.Name), strings.ToUpper(it.Category), formatPrice(it.Price), shorten(it.Description, descriptionLimit))
	}
	sb.WriteString("\n")
}

func (b *PromptBuilder) writeHoldings(sb *strings.Builder, h Holdings) {
	sb.WriteString("USER POLICIES:\n")
	switch {
	case h.Unavailable:
		sb.WriteString("unavailable right now; do not guess what the user owns\n\n")
		return
	case len(h.Items) == 0:
		sb.WriteString("none\n\n")
		return
	}

	today := b.now()
	for _, p := range h.Items {
		fmt.Fprintf(sb, "- policy=%s | name=%s | category=%s | status=%s | premium=₹%s",
			p.PolicyNumber, oneLine(p.Name), strings.ToUpper(p.Category), p.Status, formatPrice(p.Premium))
		if !p.ExpiresAt.IsZero() {
			fmt.Fprintf(sb, " | expires=%s (%s)", p.ExpiresAt.Format("2006-01-02"), daysUntil(today, p.ExpiresAt))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func writeMarkupContract(sb *strings.Builder, required bool) {
	sb.WriteString("OUTPUT FORMAT:\n")
	if required {
		sb.WriteString("You may start with one short sentence. Then, for every recommended product, output exactly this block:\n")
	} else {
		sb.WriteString("Only when you recommend a specific product, add exactly this block for it after your answer:\n")
	}
	sb.WriteString(markupTitle + "<product name>\n")
	sb.WriteString(markupWhy + " <one sentence on why it fits>\n")
	sb.WriteString(markupPremium + " ₹<price from CATALOG>\n")
	sb.WriteString("[<buy label>](" + purchasePath + "<id from CATALOG>)\n")
	sb.WriteString("Write the labels in the reply language but keep " + markupWhy + " and " + markupPremium + " unchanged.\n\n")
}

func daysUntil(now, t time.Time) string {
	days := int(math.Ceil(t.Sub(now).Hours() / 24))
	switch {
	case days < 0:
		return fmt.Sprintf("expired %d days ago", -days)
	case days == 0:
		return "expires today"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// oneLine collapses whitespace so user text cannot break the block structure.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func shorten(s string, limit int) string {
	s = oneLine(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "…"
}
