package critique

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func TestParse_FullReply(t *testing.T) {
	text := strings.Join([]string{
		"⭐️ Business: 75/100",
		"🔴 issue one",
		"🟢 good one",
		"✅ Solution A: because X",
		"Recommendation: do the thing",
		"Punchline: ship it",
	}, "\n")

	doc := Parse(text)

	require.Len(t, doc.Categories, 1)
	assert.Equal(t, "Business: 75/100", doc.Categories[0].Title)
	assert.Equal(t, []Argument{
		{Text: "issue one", Kind: ArgumentIssue},
		{Text: "good one", Kind: ArgumentGood},
	}, doc.Categories[0].Arguments)

	require.Len(t, doc.Solutions, 1)
	assert.Equal(t, Solution{Title: "Solution A", Explanation: strPtr("because X")}, doc.Solutions[0])

	assert.Equal(t, strPtr("do the thing"), doc.Recommendation)
	assert.Equal(t, strPtr("ship it"), doc.Punchline)
	assert.Empty(t, doc.Bullets)
	assert.Nil(t, doc.Header)
	assert.False(t, doc.IsEmpty())
}

func TestParse_Empty(t *testing.T) {
	for _, text := range []string{"", "\n\n   \n", "Just a friendly answer.\nNo tags here."} {
		doc := Parse(text)
		assert.True(t, doc.IsEmpty(), "text %q", text)
		assert.Empty(t, doc.Solutions)
		assert.Empty(t, doc.Categories)
		assert.Empty(t, doc.Bullets)
		assert.Nil(t, doc.Recommendation)
		assert.Nil(t, doc.Punchline)
		assert.Nil(t, doc.Header)
	}
}

func TestParse_Idempotent(t *testing.T) {
	text := "Product: Notes | Platform: iOS\n⭐️ UX\n🔴 cramped\n✨ Try a larger font\n✅ Bigger tap targets"

	assert.Equal(t, Parse(text), Parse(text))
}

func TestParse_GlyphMustLead(t *testing.T) {
	text := strings.Join([]string{
		"Note ✅ this is not a solution",
		"see ⭐️ not a category",
		"and 🔴 not an issue",
		"then ✨ not a bullet",
		"Our Recommendation: not one",
	}, "\n")

	assert.True(t, Parse(text).IsEmpty())
}

func TestParse_CategoryFlushing(t *testing.T) {
	text := strings.Join([]string{
		"⭐️ Business",
		"🔴 b1",
		"🟢 b2",
		"⭐️ Design",
		"🟢 d1",
		"",
		"🔴 d2",
	}, "\n")

	doc := Parse(text)

	require.Len(t, doc.Categories, 2)
	assert.Equal(t, Category{Title: "Business", Arguments: []Argument{
		{Text: "b1", Kind: ArgumentIssue},
		{Text: "b2", Kind: ArgumentGood},
	}}, doc.Categories[0])
	assert.Equal(t, Category{Title: "Design", Arguments: []Argument{
		{Text: "d1", Kind: ArgumentGood},
		{Text: "d2", Kind: ArgumentIssue},
	}}, doc.Categories[1])
}

func TestParse_OrphanArgumentsDropped(t *testing.T) {
	doc := Parse("🔴 orphan\n🟢 also orphan\n⭐️ Later\n🟢 kept")

	require.Len(t, doc.Categories, 1)
	assert.Equal(t, []Argument{{Text: "kept", Kind: ArgumentGood}}, doc.Categories[0].Arguments)
}

func TestParse_EmptyCategoryKept(t *testing.T) {
	doc := Parse("⭐️ Lonely")

	require.Len(t, doc.Categories, 1)
	assert.Equal(t, "Lonely", doc.Categories[0].Title)
	assert.Empty(t, doc.Categories[0].Arguments)
}

func TestParse_BareStarVariant(t *testing.T) {
	doc := Parse("⭐ Bare star\n🔴 x")

	require.Len(t, doc.Categories, 1)
	assert.Equal(t, "Bare star", doc.Categories[0].Title)
}

func TestParse_Solutions(t *testing.T) {
	text := strings.Join([]string{
		"✅ Only a title",
		"✅ Title:   ",
		"✅ Split: on: first colon",
		"✅   Padded  :  padded explanation ",
		"✅ Fifth",
	}, "\n")

	doc := Parse(text)

	assert.Equal(t, []Solution{
		{Title: "Only a title"},
		{Title: "Title"},
		{Title: "Split", Explanation: strPtr("on: first colon")},
		{Title: "Padded", Explanation: strPtr("padded explanation")},
		{Title: "Fifth"},
	}, doc.Solutions)

	assert.Len(t, doc.TopSolutions(3), 3)
	assert.Len(t, doc.TopSolutions(10), 5)
	assert.Equal(t, "Only a title", doc.TopSolutions(3)[0].Title)
}

func TestParse_FollowUps(t *testing.T) {
	text := strings.Join([]string{
		"✨ Compare with competitors",
		"✨ COMMAND: open_settings",
		"✨ command: lowercase directive",
		"✨ 👉 pointer line",
		"✨   Padded suggestion  ",
	}, "\n")

	doc := Parse(text)

	assert.Equal(t, []string{"Compare with competitors", "Padded suggestion"}, doc.Bullets)
}

func TestParse_LastLabelWins(t *testing.T) {
	doc := Parse("Recommendation: first\nPunchline: one\nRecommendation:   second  \nPunchline: two")

	assert.Equal(t, strPtr("second"), doc.Recommendation)
	assert.Equal(t, strPtr("two"), doc.Punchline)
}

func TestParse_LabelsAreCaseSensitive(t *testing.T) {
	doc := Parse("recommendation: nope\nPUNCHLINE: nope\nproduct: nope")

	assert.True(t, doc.IsEmpty())
}

func TestParse_Header(t *testing.T) {
	t.Run("all keys", func(t *testing.T) {
		doc := Parse("Product: Mail | Industry: Productivity | Platform: macOS")

		require.NotNil(t, doc.Header)
		assert.Equal(t, strPtr("Mail"), doc.Header.Product)
		assert.Equal(t, strPtr("Productivity"), doc.Header.Industry)
		assert.Equal(t, strPtr("macOS"), doc.Header.Platform)
	})

	t.Run("unknown keys and malformed segments", func(t *testing.T) {
		doc := Parse("Product: Mail | Audience: everyone | garbage | Platform: web")

		require.NotNil(t, doc.Header)
		assert.Equal(t, strPtr("Mail"), doc.Header.Product)
		assert.Nil(t, doc.Header.Industry)
		assert.Equal(t, strPtr("web"), doc.Header.Platform)
	})

	t.Run("only first header line", func(t *testing.T) {
		doc := Parse("Product: First\nProduct: Second | Industry: Games")

		require.NotNil(t, doc.Header)
		assert.Equal(t, strPtr("First"), doc.Header.Product)
		assert.Nil(t, doc.Header.Industry)
	})
}

func TestParse_Adversarial(t *testing.T) {
	inputs := []string{
		"✅",
		"⭐️",
		"🔴",
		"✨",
		"Product:",
		"Product: |||| :",
		"\xff\xfe✅ broken utf8",
		string([]byte{0xe2, 0x9c}),
		"⭐️⭐️⭐️ stars",
		"\r\n✅ crlf solution\r\n",
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			doc := Parse(in)
			assert.NotNil(t, doc)
		}, "input %q", in)
	}

	doc := Parse("\r\n✅ crlf solution\r\n")
	require.Len(t, doc.Solutions, 1)
	assert.Equal(t, "crlf solution", doc.Solutions[0].Title)

	doc = Parse("⭐️⭐️⭐️ stars")
	require.Len(t, doc.Categories, 1)
	assert.Equal(t, "⭐️⭐️ stars", doc.Categories[0].Title)
}

func TestParser_CustomSentinels(t *testing.T) {
	s := DefaultSentinels()
	s.Solution = []string{"💡"}
	s.RecommendationLabel = "Verdict:"

	doc := NewParser(s).Parse("💡 New glyph\n✅ Old glyph\nVerdict: go")

	assert.Equal(t, []Solution{{Title: "New glyph"}}, doc.Solutions)
	assert.Equal(t, strPtr("go"), doc.Recommendation)
}

func TestParser_EmptyLabelsMatchNothing(t *testing.T) {
	s := DefaultSentinels()
	s.HeaderLabel = ""
	s.PunchlineLabel = ""
	s.Directive = ""

	doc := NewParser(s).Parse("✅ Solution A: x\nRecommendation: y\n✨ COMMAND: hide")

	require.Len(t, doc.Solutions, 1)
	assert.Equal(t, "Solution A", doc.Solutions[0].Title)
	assert.Equal(t, strPtr("y"), doc.Recommendation)
	assert.Nil(t, doc.Header)
	assert.Nil(t, doc.Punchline)
	assert.Equal(t, []string{"COMMAND: hide"}, doc.Bullets)
}

func TestParse_EmptyListsEncodeAsArrays(t *testing.T) {
	data, err := json.Marshal(Parse("just prose"))
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.JSONEq(t, `[]`, string(fields["solutions"]))
	assert.JSONEq(t, `[]`, string(fields["categories"]))
	assert.JSONEq(t, `[]`, string(fields["bullets"]))
}
