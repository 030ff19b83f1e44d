package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// CleanText trims a scraped text fragment down to something
// presentable: no non-printable runes, no runs of whitespace,
// no surrounding padding. &nbsp; placeholders collapse to "".
func CleanText(s string) string {
	out := strings.Builder{}
	for _, c := range s {
		if c == ' ' {
			out.WriteRune(' ')
			continue
		}
		if unicode.IsPrint(c) {
			out.WriteRune(c)
		}
	}
	cleaned := innerWhitespace.ReplaceAllString(out.String(), " ")
	return strings.Trim(cleaned, " \t\n")
}
