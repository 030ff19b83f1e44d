package enroll

import "strings"

const offeringsFormMarker = `<FORM ACTION="view_course_offerings" METHOD="POST">`

// ExtractOfferingsTable cuts the response page down to the course
// offerings form and the tables inside it. The surrounding page is
// boilerplate (and occasionally megabytes of it), only the second
// FORM block carries data.
func ExtractOfferingsTable(page string) string {
	var out strings.Builder
	out.WriteString("<html><head></head><body>")

	insideForm := false
	insideTable := false
	formsClosed := 0

	for _, line := range strings.Split(page, "\n") {
		switch {
		case strings.Contains(line, offeringsFormMarker):
			insideForm = true
			formsClosed = 0
			out.WriteString(line)
			out.WriteByte('\n')
		case strings.Contains(line, "</FORM>"):
			out.WriteString(line)
			out.WriteByte('\n')
			formsClosed++
			if formsClosed == 2 {
				insideForm = false
			}
		case insideForm:
			if strings.Contains(line, "<TABLE ") || insideTable {
				insideTable = true
				out.WriteString(line)
				out.WriteByte('\n')
				if strings.Contains(line, "</TABLE>") {
					insideTable = false
				}
			}
		}
	}

	out.WriteString("</body></html>")
	return out.String()
}
