// Package clause parses internal procedure documents (QSPs) into
// addressable clause records.
package clause

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mhollis/regscan/internal/extract"
)

// Parser splits extracted document text into clause records. Document number
// and revision come from the filename, never from the content.
type Parser struct {
	docNumberPattern *regexp.Regexp
	revisionPattern  *regexp.Regexp
	headingPattern   *regexp.Regexp
	capsHeadingPattern *regexp.Regexp
	boilerplatePatterns []*regexp.Regexp
	formPattern      *regexp.Regexp
	wiPattern        *regexp.Regexp
}

// maxTitleLen bounds how long a line can be and still count as a heading.
const maxTitleLen = 90

// NewParser creates a Parser with the QSP numbering conventions.
func NewParser() *Parser {
	return &Parser{
		// e.g. "7.3-3" in "QSP_7.3-3_R9_Design_Control.docx"
		docNumberPattern: regexp.MustCompile(`\d+(?:\.\d+)*-\d+`),
		revisionPattern:  regexp.MustCompile(`\bR(\d+)\b`),
		// e.g. "7.3.5 Device Labeling" — dotted number, short title
		headingPattern:     regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.*)$`),
		capsHeadingPattern: regexp.MustCompile(`^[A-Z][A-Z0-9 /&-]{3,60}$`),
		boilerplatePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^page\s+\d+`),
			regexp.MustCompile(`(?i)^\s*date[:\s]`),
			regexp.MustCompile(`(?i)^\s*(approved|approval)\b`),
			regexp.MustCompile(`(?i)^\s*rev(ision)?\b[:.\s]`),
			regexp.MustCompile(`(?i)^\s*signature`),
			regexp.MustCompile(`(?i)^\s*(quality\s+system\s+procedure|uncontrolled\s+(copy|when\s+printed)|confidential|proprietary)\b`),
			regexp.MustCompile(`(?i)^\s*(effective\s+date|document\s+(no|number)|prepared\s+by|reviewed\s+by)\b`),
			regexp.MustCompile(`(?i)\b(inc|corp|ltd|llc|gmbh)\.?\s*$`),
		},
		formPattern: regexp.MustCompile(`\bF-\d+(?:[-.]\d+)*\b`),
		wiPattern:   regexp.MustCompile(`\bWI-\d+(?:[-.]\d+)*\b`),
	}
}

// Parse extracts text from the file and splits it into clause records.
// Returns extract.ErrUnsupportedFormat (wrapped) for unknown file types.
func (p *Parser) Parse(data []byte, filename string) (*ParsedDocument, error) {
	docNumber := p.docNumberPattern.FindString(filename)
	if docNumber == "" {
		return nil, fmt.Errorf("cannot determine document number from filename %q", filename)
	}

	revision := "R0"
	if m := p.revisionPattern.FindStringSubmatch(filename); m != nil {
		revision = "R" + m[1]
	}

	text, err := extract.Text(data, filename)
	if err != nil {
		return nil, err
	}

	clauses := p.splitClauses(text, docNumber, revision)

	return &ParsedDocument{
		DocumentNumber: docNumber,
		Revision:       revision,
		Filename:       filename,
		Clauses:        clauses,
	}, nil
}

type rawClause struct {
	number string
	title  string
	body   []string
}

// splitClauses walks the text identifying heading lines as clause boundaries
// and aggregating everything in between as that clause's body.
func (p *Parser) splitClauses(text, docNumber, revision string) []Record {
	var raw []rawClause
	current := -1
	lastNumber := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || p.isBoilerplate(line) {
			continue
		}

		if m := p.headingPattern.FindStringSubmatch(line); m != nil && len(m[2]) <= maxTitleLen && !startsLowercase(m[2]) {
			raw = append(raw, rawClause{number: m[1], title: strings.TrimSpace(m[2])})
			current = len(raw) - 1
			lastNumber = m[1]
			continue
		}

		// A short all-caps line is a heading whose number was lost in
		// extraction; synthesize the next sibling number instead of
		// emitting "Unknown".
		if current >= 0 && p.capsHeadingPattern.MatchString(line) && len(line) <= maxTitleLen {
			lastNumber = nextSibling(lastNumber)
			raw = append(raw, rawClause{number: lastNumber, title: titleCase(line)})
			current = len(raw) - 1
			continue
		}

		if current >= 0 {
			raw[current].body = append(raw[current].body, line)
		}
	}

	records := make([]Record, 0, len(raw))
	for _, rc := range raw {
		body := strings.Join(rc.body, " ")
		if strings.TrimSpace(body) == "" {
			body = NoTextPlaceholder
		}
		records = append(records, Record{
			DocumentNumber: docNumber,
			Revision:       revision,
			ClauseNumber:   rc.number,
			Title:          rc.title,
			Text:           body,
			CharCount:      len(body),
			References:     p.scanReferences(rc.title + " " + body),
		})
	}
	return records
}

func (p *Parser) isBoilerplate(line string) bool {
	for _, re := range p.boilerplatePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// scanReferences collects Form and Work Instruction ids mentioned in the
// clause, deduplicated and sorted.
func (p *Parser) scanReferences(text string) []string {
	seen := make(map[string]bool)
	for _, m := range p.formPattern.FindAllString(text, -1) {
		seen[m] = true
	}
	for _, m := range p.wiPattern.FindAllString(text, -1) {
		seen[m] = true
	}
	if len(seen) == 0 {
		return nil
	}
	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

// nextSibling increments the last segment of a dotted clause number:
// "4.2" -> "4.3". An empty predecessor yields "1".
func nextSibling(number string) string {
	if number == "" {
		return "1"
	}
	parts := strings.Split(number, ".")
	last, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return number + ".1"
	}
	parts[len(parts)-1] = strconv.Itoa(last + 1)
	return strings.Join(parts, ".")
}

func startsLowercase(s string) bool {
	return len(s) > 0 && s[0] >= 'a' && s[0] <= 'z'
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
