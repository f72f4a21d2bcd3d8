// Package regdiff compares two revisions of a regulatory standard and
// produces clause-level deltas.
package regdiff

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ChangeType classifies a delta.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Delta is one detected clause-level change between two revisions.
// Old and new text are preserved verbatim; truncating them degrades the
// embeddings computed downstream.
type Delta struct {
	ClauseID   string     `json:"clause_id"`
	ChangeType ChangeType `json:"change_type"`
	Title      string     `json:"title,omitempty"`
	OldText    string     `json:"old_text,omitempty"`
	NewText    string     `json:"new_text,omitempty"`
}

// Summary holds per-change-type counts for a diff run.
type Summary struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

type segment struct {
	number string
	title  string
	text   string
}

// headingPattern matches regulatory clause headings: "4.2.3 Title",
// "Section 10.2 Title", "Clause 7.1 Title".
var headingPattern = regexp.MustCompile(`^(?:(?:Section|Clause|Article)\s+)?(\d+(?:\.\d+)+)[.)]?\s+(\S.*)$`)

// topHeadingPattern matches single-number headings ("4 General requirements").
var topHeadingPattern = regexp.MustCompile(`^(?:(?:Section|Clause|Article)\s+)?(\d+)[.)]?\s+([A-Z]\S.*)$`)

// Diff segments both texts by clause number and classifies each clause as
// added, modified or deleted. Clauses with identical text (modulo
// whitespace) produce no delta. Output is ordered by clause number
// ascending. Deterministic for identical inputs.
func Diff(oldText, newText string) []Delta {
	oldSegs := segmentText(oldText)
	newSegs := segmentText(newText)

	numbers := make(map[string]bool, len(oldSegs)+len(newSegs))
	for n := range oldSegs {
		numbers[n] = true
	}
	for n := range newSegs {
		numbers[n] = true
	}

	ordered := make([]string, 0, len(numbers))
	for n := range numbers {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return compareClauseNumbers(ordered[i], ordered[j])
	})

	var deltas []Delta
	for _, n := range ordered {
		oldSeg, inOld := oldSegs[n]
		newSeg, inNew := newSegs[n]

		switch {
		case !inOld && inNew:
			deltas = append(deltas, Delta{
				ClauseID:   n,
				ChangeType: ChangeAdded,
				Title:      newSeg.title,
				NewText:    newSeg.text,
			})
		case inOld && !inNew:
			deltas = append(deltas, Delta{
				ClauseID:   n,
				ChangeType: ChangeDeleted,
				Title:      oldSeg.title,
				OldText:    oldSeg.text,
			})
		default:
			if normalizeForComparison(oldSeg.text) == normalizeForComparison(newSeg.text) {
				continue
			}
			title := newSeg.title
			if title == "" {
				title = oldSeg.title
			}
			deltas = append(deltas, Delta{
				ClauseID:   n,
				ChangeType: ChangeModified,
				Title:      title,
				OldText:    oldSeg.text,
				NewText:    newSeg.text,
			})
		}
	}
	return deltas
}

// Summarize counts deltas by change type.
func Summarize(deltas []Delta) Summary {
	var s Summary
	for _, d := range deltas {
		switch d.ChangeType {
		case ChangeAdded:
			s.Added++
		case ChangeModified:
			s.Modified++
		case ChangeDeleted:
			s.Deleted++
		}
	}
	return s
}

// segmentText splits a regulatory text into clause-numbered segments using
// the same heading-boundary approach as the QSP clause parser.
func segmentText(text string) map[string]segment {
	segs := make(map[string]segment)
	current := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			m = topHeadingPattern.FindStringSubmatch(line)
		}
		if m != nil && len(m[2]) <= 90 {
			current = m[1]
			segs[current] = segment{number: m[1], title: strings.TrimSpace(m[2])}
			continue
		}

		if current != "" {
			s := segs[current]
			if s.text != "" {
				s.text += " "
			}
			s.text += line
			segs[current] = s
		}
	}
	return segs
}

func normalizeForComparison(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// compareClauseNumbers orders dotted clause numbers segment by segment,
// numerically ("10.2" after "7.11").
func compareClauseNumbers(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr != nil || berr != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if an != bn {
			return an < bn
		}
	}
	return len(as) < len(bs)
}
