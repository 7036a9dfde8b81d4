package critique

import (
	"strings"
)

// Sentinels is the vocabulary of the reply micro-language. Glyph fields list
// accepted spellings, longest first where one is a prefix of another.
type Sentinels struct {
	HeaderLabel         string
	Solution            []string
	Category            []string
	Issue               []string
	Good                []string
	FollowUp            []string
	Pointer             []string
	Directive           string
	RecommendationLabel string
	PunchlineLabel      string
}

func DefaultSentinels() Sentinels {
	return Sentinels{
		HeaderLabel:         "Product:",
		Solution:            []string{"✅"},
		Category:            []string{"⭐️", "⭐"},
		Issue:               []string{"🔴"},
		Good:                []string{"🟢"},
		FollowUp:            []string{"✨"},
		Pointer:             []string{"👉"},
		Directive:           "COMMAND:",
		RecommendationLabel: "Recommendation:",
		PunchlineLabel:      "Punchline:",
	}
}

type Parser struct {
	s Sentinels
}

func NewParser(s Sentinels) *Parser {
	return &Parser{s: s}
}

var defaultParser = NewParser(DefaultSentinels())

// Parse classifies text with the default sentinels.
func Parse(text string) *Document {
	return defaultParser.Parse(text)
}

// Parse never fails: unrecognized lines are ignored and any input yields a
// valid, possibly empty, document.
func (p *Parser) Parse(text string) *Document {
	st := parseState{doc: &Document{
		Solutions:  []Solution{},
		Categories: []Category{},
		Bullets:    []string{},
	}}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		p.parseLine(&st, line)
	}

	st.flushCategory()

	return st.doc
}

type parseState struct {
	doc        *Document
	open       *Category
	headerSeen bool
}

func (st *parseState) flushCategory() {
	if st.open == nil {
		return
	}

	st.doc.Categories = append(st.doc.Categories, *st.open)
	st.open = nil
}

func (st *parseState) addArgument(text string, kind ArgumentKind) {
	if st.open == nil {
		return
	}

	st.open.Arguments = append(st.open.Arguments, Argument{Text: text, Kind: kind})
}

func (p *Parser) parseLine(st *parseState, line string) {
	if _, ok := cutLabel(line, p.s.HeaderLabel); ok {
		if !st.headerSeen {
			st.headerSeen = true
			st.doc.Header = p.parseHeader(line)
		}
		return
	}

	if rest, ok := cutGlyph(line, p.s.Solution); ok {
		st.doc.Solutions = append(st.doc.Solutions, parseSolution(rest))
		return
	}

	if rest, ok := cutGlyph(line, p.s.Category); ok {
		st.flushCategory()
		st.open = &Category{Title: rest, Arguments: []Argument{}}
		return
	}

	if rest, ok := cutGlyph(line, p.s.Issue); ok {
		st.addArgument(rest, ArgumentIssue)
		return
	}

	if rest, ok := cutGlyph(line, p.s.Good); ok {
		st.addArgument(rest, ArgumentGood)
		return
	}

	if rest, ok := cutGlyph(line, p.s.FollowUp); ok {
		if p.isControl(rest) {
			return
		}
		st.doc.Bullets = append(st.doc.Bullets, rest)
		return
	}

	if rest, ok := cutLabel(line, p.s.RecommendationLabel); ok {
		value := strings.TrimSpace(rest)
		st.doc.Recommendation = &value
		return
	}

	if rest, ok := cutLabel(line, p.s.PunchlineLabel); ok {
		value := strings.TrimSpace(rest)
		st.doc.Punchline = &value
		return
	}
}

func (p *Parser) isControl(rest string) bool {
	if hasPrefixFold(rest, p.s.Directive) {
		return true
	}

	_, ok := cutGlyph(rest, p.s.Pointer)
	return ok
}

func (p *Parser) parseHeader(line string) *Header {
	var header Header
	found := false

	for _, segment := range strings.Split(line, "|") {
		key, value, ok := strings.Cut(segment, ":")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch key {
		case "Product":
			header.Product = &value
		case "Industry":
			header.Industry = &value
		case "Platform":
			header.Platform = &value
		default:
			continue
		}
		found = true
	}

	if !found {
		return nil
	}

	return &header
}

func parseSolution(rest string) Solution {
	title, explanation, ok := strings.Cut(rest, ":")
	if !ok {
		return Solution{Title: rest}
	}

	solution := Solution{Title: strings.TrimSpace(title)}

	explanation = strings.TrimSpace(explanation)
	if explanation != "" {
		solution.Explanation = &explanation
	}

	return solution
}

// cutGlyph strips the first matching glyph by its literal spelling, so
// multi-byte sequences are never cut at a fixed offset.
func cutGlyph(line string, glyphs []string) (string, bool) {
	for _, glyph := range glyphs {
		if glyph == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, glyph); ok {
			return strings.TrimSpace(rest), true
		}
	}

	return "", false
}

// cutLabel is strings.CutPrefix except that an empty label matches nothing.
func cutLabel(line, label string) (string, bool) {
	if label == "" {
		return "", false
	}

	return strings.CutPrefix(line, label)
}

func hasPrefixFold(s, prefix string) bool {
	if prefix == "" || len(s) < len(prefix) {
		return false
	}

	return strings.EqualFold(s[:len(prefix)], prefix)
}
