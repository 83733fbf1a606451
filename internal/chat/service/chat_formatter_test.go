package service_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/service"
	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"
)

var formatterCatalog = []maindomain.CatalogItem{
	{ID: "h1", Name: "Gramin Health Shield", Category: "HEALTH", Price: 5000, Active: true},
	{ID: "v1", Name: "Tractor Cover", Category: "VEHICLE", Price: 1200.5, Active: true},
	{ID: "old", Name: "Old Plan", Category: "LIFE", Price: 10, Active: false},
}

func TestFormatter_RecommendationKeepsOnlyCatalogBlocks(t *testing.T) {
	f := service.NewFormatter()
	reply := `These plans suit you.

### Health Shield
**Why:** Covers hospital bills.
**Premium:** ₹1
[खरीदें](/purchase?product_id=h1)

### Old Plan
**Why:** Inactive.
**Premium:** ₹10
[Buy now](/purchase?product_id=old)

### Tractor Cover
**Why:** You own a tractor.
**Premium:** ₹1200.5
[Buy now](/purchase?product_id=v1)
Stay safe!`

	out, err := f.Recommendation(reply, formatterCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "product_id=old") {
		t.Error("expected inactive item block dropped")
	}
	if !strings.Contains(out, "**Premium:** ₹5000") {
		t.Errorf("expected premium rewritten from catalog, got %q", out)
	}
	if !strings.Contains(out, "[खरीदें](/purchase?product_id=h1)") {
		t.Error("expected localized link label preserved")
	}
	if !strings.HasPrefix(out, "These plans suit you.") || !strings.HasSuffix(out, "Stay safe!") {
		t.Errorf("expected surrounding prose preserved, got %q", out)
	}

	blocks := f.Parse(out)
	if len(blocks) != 2 || blocks[0].ProductID != "h1" || blocks[1].ProductID != "v1" {
		t.Errorf("expected blocks h1, v1 in order, got %+v", blocks)
	}
}

func TestFormatter_RecommendationWithoutValidBlockIsMalformed(t *testing.T) {
	f := service.NewFormatter()

	cases := map[string]string{
		"no blocks":       "You should get insured soon.",
		"unknown id":      "### X\n**Why:** y\n**Premium:** ₹1\n[Buy](/purchase?product_id=nope)",
		"incomplete":      "### Health\n**Premium:** ₹5000\n[Buy](/purchase?product_id=h1)",
		"missing link":    "### Health\n**Why:** good\n**Premium:** ₹5000",
		"whitespace only": "   \n  ",
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Recommendation(reply, formatterCatalog)
			var malformed *maindomain.ErrMalformedResponse
			if !errors.As(err, &malformed) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestFormatter_GeneralAllowsProse(t *testing.T) {
	f := service.NewFormatter()

	out, err := f.General("A premium is the amount you pay for cover.", formatterCatalog)
	if err != nil || out != "A premium is the amount you pay for cover." {
		t.Errorf("expected prose unchanged, got %q / %v", out, err)
	}

	out, err = f.General("Try this.\n### Fake\n**Why:** x\n**Premium:** ₹2\n[Buy](/purchase?product_id=zzz)", formatterCatalog)
	if err != nil || out != "Try this." {
		t.Errorf("expected fake block dropped, got %q / %v", out, err)
	}
}

func TestFormatter_GeneralKeepsHeadingsWithoutLink(t *testing.T) {
	f := service.NewFormatter()
	reply := "### Crop insurance\nCrop insurance protects your harvest against drought and floods. The premium is small."

	out, err := f.General(reply, formatterCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != reply {
		t.Errorf("expected heading and prose preserved, got %q", out)
	}
}

func TestFormatter_UnlinkedHeadingBeforeBlock(t *testing.T) {
	f := service.NewFormatter()
	reply := "### About cover\nHealth cover pays hospital bills.\n" +
		"### Health Shield\n**Why:** Fits your family.\n**Premium:** ₹1\n[Buy now](/purchase?product_id=h1)"

	out, err := f.Recommendation(reply, formatterCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "### About cover\nHealth cover pays hospital bills.") {
		t.Errorf("expected unlinked heading kept as prose, got %q", out)
	}
	if blocks := f.Parse(out); len(blocks) != 1 || blocks[0].ProductID != "h1" {
		t.Errorf("expected one h1 block, got %+v", blocks)
	}
}
