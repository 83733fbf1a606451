package service

import (
	"regexp"
	"strings"

	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"
)

// ============================================================
// Formatter — output markup contract
// ============================================================
//
//	### <product name>
//	**Why:** <one sentence>
//	**Premium:** ₹<price>
//	[Buy now](/purchase?product_id=<ID>)
//
// Replies are parsed back into blocks. Blocks that are incomplete or name
// an id outside the supplied snapshot are dropped, and the premium line is
// rewritten from the catalog price.

const (
	markupTitle   = "### "
	markupWhy     = "**Why:**"
	markupPremium = "**Premium:**"
	purchasePath  = "/purchase?product_id="
)

var purchaseLink = regexp.MustCompile(`\[([^\]]+)\]\(` + regexp.QuoteMeta(purchasePath) + `([^)\s]+)\)`)

// Block is one parsed product block.
type Block struct {
	Title     string
	Why       string
	Premium   string
	LinkLabel string
	ProductID string
}

func (b Block) complete() bool {
	return b.Title != "" && b.Why != "" && b.ProductID != ""
}

// Formatter validates completion text against the markup contract.
type Formatter struct{}

// NewFormatter creates a formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Recommendation sanitizes a recommendation reply. With a non-empty snapshot
// at least one valid block must survive, otherwise the reply is malformed.
func (f *Formatter) Recommendation(text string, catalog []maindomain.CatalogItem) (string, error) {
	out, kept := f.render(text, catalog)
	if len(maindomain.ActiveOnly(catalog)) > 0 && kept == 0 {
		return "", &maindomain.ErrMalformedResponse{Reason: "no product block references the catalog"}
	}
	if out == "" {
		return "", &maindomain.ErrMalformedResponse{Reason: "empty reply"}
	}
	return out, nil
}

// General sanitizes a general-query reply. Blocks are optional there; invalid
// ones are still dropped.
func (f *Formatter) General(text string, catalog []maindomain.CatalogItem) (string, error) {
	out, _ := f.render(text, catalog)
	if out == "" {
		return "", &maindomain.ErrMalformedResponse{Reason: "empty reply"}
	}
	return out, nil
}

// Parse extracts the complete blocks of text, in order.
func (f *Formatter) Parse(text string) []Block {
	var blocks []Block
	for _, seg := range segment(text) {
		if seg.block != nil && seg.block.complete() {
			blocks = append(blocks, *seg.block)
		}
	}
	return blocks
}

func (f *Formatter) render(text string, catalog []maindomain.CatalogItem) (string, int) {
	byID := make(map[string]maindomain.CatalogItem)
	for _, it := range maindomain.ActiveOnly(catalog) {
		byID[it.ID] = it
	}

	var parts []string
	kept := 0
	for _, seg := range segment(text) {
		if seg.block == nil {
			if s := strings.TrimSpace(seg.prose); s != "" {
				parts = append(parts, s)
			}
			continue
		}
		b := seg.block
		item, ok := byID[b.ProductID]
		if !ok || !b.complete() {
			continue
		}
		label := b.LinkLabel
		if label == "" {
			label = "Buy now"
		}
		parts = append(parts, strings.Join([]string{
			markupTitle + b.Title,
			markupWhy + " " + b.Why,
			markupPremium + " ₹" + formatPrice(item.Price),
			"[" + label + "](" + purchasePath + item.ID + ")",
		}, "\n"))
		kept++
	}
	return strings.Join(parts, "\n\n"), kept
}

type segmentPart struct {
	prose string
	block *Block
}

// segment splits text into prose and blocks. A block starts at a title line
// and ends at its purchase link. A title that reaches the next title or the
// end of text without a link is an ordinary heading: its lines stay prose.
func segment(text string) []segmentPart {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var (
		parts      []segmentPart
		prose      []string
		cur        *Block
		blockLines []string
	)
	flushProse := func() {
		if len(prose) > 0 {
			parts = append(parts, segmentPart{prose: strings.Join(prose, "\n")})
			prose = nil
		}
	}
	// demote returns an unlinked block to the prose buffer.
	demote := func() {
		if cur != nil {
			prose = append(prose, blockLines...)
			cur, blockLines = nil, nil
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, markupTitle) {
			demote()
			cur = &Block{Title: strings.TrimSpace(strings.TrimPrefix(trimmed, markupTitle))}
			blockLines = []string{line}
			continue
		}
		if cur == nil {
			prose = append(prose, line)
			continue
		}

		blockLines = append(blockLines, line)
		switch {
		case strings.HasPrefix(trimmed, markupWhy):
			cur.Why = strings.TrimSpace(strings.TrimPrefix(trimmed, markupWhy))
		case strings.HasPrefix(trimmed, markupPremium):
			cur.Premium = strings.TrimSpace(strings.TrimPrefix(trimmed, markupPremium))
		}
		if m := purchaseLink.FindStringSubmatch(trimmed); m != nil {
			cur.LinkLabel = strings.TrimSpace(m[1])
			cur.ProductID = m[2]
			flushProse()
			parts = append(parts, segmentPart{block: cur})
			cur, blockLines = nil, nil
		}
	}
	demote()
	flushProse()
	return parts
}
