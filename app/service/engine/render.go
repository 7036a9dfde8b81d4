package engine

import (
	"critiquebar/app/service/critique"
	"fmt"
	"strings"

	"github.com/elliotchance/pie/v2"
)

const maxRenderedSolutions = 3

// Render formats a critique document for a plain text console.
func Render(doc *critique.Document) string {
	var b strings.Builder

	if doc.Header != nil {
		fields := pie.Filter([]string{
			labelled("Product", doc.Header.Product),
			labelled("Industry", doc.Header.Industry),
			labelled("Platform", doc.Header.Platform),
		}, func(s string) bool { return s != "" })
		fmt.Fprintf(&b, "[%s]\n", strings.Join(fields, " | "))
	}

	if solutions := doc.TopSolutions(maxRenderedSolutions); len(solutions) > 0 {
		b.WriteString("\nSolutions\n")
		for i, sol := range solutions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, sol.Title)
			if sol.Explanation != nil {
				fmt.Fprintf(&b, "     %s\n", *sol.Explanation)
			}
		}
	}

	for _, cat := range doc.Categories {
		issues := pie.Filter(cat.Arguments, func(a critique.Argument) bool { return a.Kind == critique.ArgumentIssue })
		fmt.Fprintf(&b, "\n%s (%d issues, %d good)\n", cat.Title, len(issues), len(cat.Arguments)-len(issues))

		for _, arg := range cat.Arguments {
			fmt.Fprintf(&b, "  %s %s\n", argumentMark(arg.Kind), arg.Text)
		}
	}

	if doc.Recommendation != nil {
		fmt.Fprintf(&b, "\nRecommendation: %s\n", *doc.Recommendation)
	}
	if doc.Punchline != nil {
		fmt.Fprintf(&b, "\n%s\n", *doc.Punchline)
	}

	if len(doc.Bullets) > 0 {
		b.WriteString("\nFollow up\n")
		b.WriteString(strings.Join(pie.Map(doc.Bullets, func(s string) string { return "  * " + s }), "\n"))
		b.WriteString("\n")
	}

	return b.String()
}

func argumentMark(kind critique.ArgumentKind) string {
	if kind == critique.ArgumentIssue {
		return "-"
	}

	return "+"
}

func labelled(label string, value *string) string {
	if value == nil {
		return ""
	}

	return label + ": " + *value
}
