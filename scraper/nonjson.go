package scraper

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/harvest/models"
)

// describeNonJSON explains a target body that failed JSON validation. Bot
// walls and maintenance pages answer with HTML; their title is the most
// useful part of the message.
func describeNonJSON(body []byte) string {
	msg := "target response is not valid JSON"
	if title := htmlTitle(body); title != "" {
		msg += " (HTML page " + `"` + title + `"` + ")"
	}
	return msg + ": " + models.Excerpt(body, 200)
}

// htmlTitle returns the <title> of body when it looks like an HTML document.
func htmlTitle(body []byte) string {
	head := bytes.TrimSpace(body)
	if len(head) == 0 || head[0] != '<' {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
