package enroll

import (
	"strings"

	"mlsplus/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// the site renders an open seat count by painting the cell green.
// color is the only grouping signal the table carries, so it gets
// treated as structural metadata rather than presentation.
const openMarker = "#D2EED3"

// the column header text of the seventh cell, used to recognize
// header rows that leak into the table body
const enrlCapHeader = "Enrl Cap"

// Section is one logical course section reassembled from the flat
// table rows of the offerings page.
type Section struct {
	ClassNbr  string   `json:"classNbr"`
	Course    string   `json:"course"`
	Section   string   `json:"section"`
	Days      []string `json:"days"`
	Times     []string `json:"times"`
	Rooms     []string `json:"rooms"`
	EnrlCap   string   `json:"enrlCap"`
	Enrolled  string   `json:"enrolled"`
	Remarks   string   `json:"remarks"`
	Professor string   `json:"professor"`
	IsOpen    bool     `json:"isOpen"`
}

func (s Section) valid() bool {
	return s.ClassNbr != "" && s.Section != "" && len(s.Days) > 0
}

func cellText(cells *goquery.Selection, i int) string {
	return htmlutil.CleanText(cells.Eq(i).Text())
}

func boldText(cells *goquery.Selection, i int) string {
	return htmlutil.CleanText(cells.Eq(i).Find("b").Text())
}

// ReduceOfferings rebuilds the logical section records out of the
// offerings table. A section's schedule spans several physical rows:
// the first (primary) row carries the class number, every following
// row without one extends the schedule, and the professor arrives in
// a separate full-width row. Malformed input degrades to fewer or no
// sections, never to an error.
func ReduceOfferings(markup string, courseCode string) []Section {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	var sections []Section
	var current *Section

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")

		if cells.Length() == 9 {
			// header row with column titles leaked into the body
			if cellText(cells, 6) == enrlCapHeader {
				return
			}

			classNbr := boldText(cells, 0)
			sectionCode := boldText(cells, 2)

			if classNbr != "" {
				// primary row, opens a new section
				if current != nil {
					sections = append(sections, *current)
				}
				current = &Section{
					ClassNbr: classNbr,
					Course:   courseCode,
					Section:  sectionCode,
					Days:     seedSchedule(cellText(cells, 3)),
					Times:    seedSchedule(cellText(cells, 4)),
					Rooms:    seedSchedule(cellText(cells, 5)),
					EnrlCap:  cellText(cells, 6),
					Enrolled: cellText(cells, 7),
					Remarks:  cellText(cells, 8),
					IsOpen:   cells.Eq(0).AttrOr("bgcolor", "") == openMarker,
				}
				return
			}

			if current != nil && sectionCode == "" {
				// continuation row. a cell only contributes when it is
				// painted with the marker, unpainted cells are empty
				// placeholders repeating the previous row's rendering.
				appendMarked(&current.Days, cells, 3)
				appendMarked(&current.Times, cells, 4)
				appendMarked(&current.Rooms, cells, 5)
			}
			return
		}

		if current != nil && current.Professor == "" &&
			cells.Length() > 0 && row.Find(`td[colspan="6"]`).Length() > 0 {
			// professor row, assigned once per section
			current.Professor = cellText(cells, 0)
		}
	})

	if current != nil {
		sections = append(sections, *current)
	}

	// drop anything that never got a class number, section code or
	// schedule (header garbage, truncated rows)
	valid := make([]Section, 0, len(sections))
	for _, s := range sections {
		if s.valid() {
			valid = append(valid, s)
		}
	}
	return valid
}

func seedSchedule(text string) []string {
	if text == "" {
		return nil
	}
	return []string{text}
}

func appendMarked(dst *[]string, cells *goquery.Selection, i int) {
	text := cellText(cells, i)
	if text == "" {
		return
	}
	if cells.Eq(i).AttrOr("bgcolor", "") != openMarker {
		return
	}
	*dst = append(*dst, text)
}
