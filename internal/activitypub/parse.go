package activitypub

import (
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
)

// ParseIncoming decodes an inbound activity body into the normalized
// IncomingActivity shape.
func ParseIncoming(body []byte) (*IncomingActivity, error) {
	var a IncomingActivity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ObjectAsString returns the activity's object field when it is a bare IRI
// reference (rather than an embedded object), or "" otherwise.
func (a *IncomingActivity) ObjectAsString() string {
	var s string
	if err := json.Unmarshal(a.Object, &s); err == nil {
		return s
	}
	return ""
}

// ObjectAsEvent decodes the activity's embedded object as an EventObject.
// Returns nil if the object is a bare reference or not an Event-shaped map.
func (a *IncomingActivity) ObjectAsEvent() *EventObject {
	var m map[string]interface{}
	if err := json.Unmarshal(a.Object, &m); err != nil {
		return nil
	}
	return mapToEvent(m)
}

// ObjectAsNote decodes the activity's embedded object as a Note.
func (a *IncomingActivity) ObjectAsNote() *Note {
	var m map[string]interface{}
	if err := json.Unmarshal(a.Object, &m); err != nil {
		return nil
	}
	return mapToNote(m)
}

// ObjectAsActivity decodes the activity's embedded object as a nested
// IncomingActivity — used by Accept/Reject/Undo, whose object is the
// original Follow/Like/Announce activity.
func (a *IncomingActivity) ObjectAsActivity() *IncomingActivity {
	var inner IncomingActivity
	if err := json.Unmarshal(a.Object, &inner); err != nil {
		return nil
	}
	if inner.Type == "" {
		return nil
	}
	return &inner
}

// htmlToText converts an ActivityPub HTML content field to plain text,
// using the HTML tokenizer so named, decimal, and hex entity references are
// all decoded correctly. <script> and <style> content is discarded.
func htmlToText(h string) string {
	z := html.NewTokenizer(strings.NewReader(h))
	var sb strings.Builder
	skipContent := false
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			if !skipContent {
				sb.WriteString(html.UnescapeString(string(z.Raw())))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skipContent = true
			case "p", "div", "blockquote", "li":
				sb.WriteString("\n\n")
			case "br":
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skipContent = false
			case "p", "div", "blockquote", "li":
				sb.WriteString("\n\n")
			}
		}
	}
	text := sb.String()
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// HTMLToText exports htmlToText for callers outside this package (the
// mention engine strips HTML before scanning for @-mentions).
func HTMLToText(h string) string { return htmlToText(h) }
