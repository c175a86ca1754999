package main

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

var htmlTagPattern = regexp.MustCompile(`(?i)<(p|div|br|a|span|h[1-6]|ul|ol|li|strong|em|b|i|img|figure|figcaption|blockquote|table|iframe)\b[^>]*>`)

// ContentHandler normalizes an article body before it is embedded in a prompt
type ContentHandler interface {
	CanHandle(body string) bool
	Handle(body string) (string, error)
}

// HTMLHandler converts HTML bodies to markdown
type HTMLHandler struct {
	converter *md.Converter
}

func (h *HTMLHandler) CanHandle(body string) bool {
	return htmlTagPattern.MatchString(body)
}

func (h *HTMLHandler) Handle(body string) (string, error) {
	markdown, err := h.converter.ConvertString(body)
	if err != nil {
		return "", fmt.Errorf("converting HTML to markdown: %w", err)
	}
	return markdown, nil
}

// TextHandler passes plain text through with whitespace collapsed (fallback)
type TextHandler struct{}

func (h *TextHandler) CanHandle(body string) bool {
	return true
}

func (h *TextHandler) Handle(body string) (string, error) {
	return strings.TrimSpace(body), nil
}

// ContentNormalizer builds the bounded article content sent to the classifier
type ContentNormalizer struct {
	handlers []ContentHandler
	maxChars int
}

// NewContentNormalizer creates a normalizer with default handlers.
// maxChars bounds the body length in runes; 0 disables truncation.
func NewContentNormalizer(maxChars int) *ContentNormalizer {
	n := &ContentNormalizer{maxChars: maxChars}

	// Register handlers (most specific first)
	n.AddHandler(&HTMLHandler{converter: md.NewConverter("", true, nil)})
	n.AddHandler(&TextHandler{}) // fallback

	return n
}

// AddHandler adds a content handler to the chain
func (n *ContentNormalizer) AddHandler(handler ContentHandler) {
	n.handlers = append(n.handlers, handler)
}

// Normalize returns the record body with tags and categories appended
func (n *ContentNormalizer) Normalize(record Record) string {
	body := n.body(record.Body)
	if n.maxChars > 0 {
		body = truncateRunes(body, n.maxChars)
	}

	var b strings.Builder
	b.WriteString(body)
	if tags := strings.TrimSpace(record.Tags); tags != "" {
		b.WriteString("\n\nTags: ")
		b.WriteString(tags)
	}
	if categories := strings.TrimSpace(record.Categories); categories != "" {
		b.WriteString("\n\nCategories: ")
		b.WriteString(categories)
	}
	return strings.TrimSpace(b.String())
}

func (n *ContentNormalizer) body(raw string) string {
	for _, handler := range n.handlers {
		if !handler.CanHandle(raw) {
			continue
		}
		out, err := handler.Handle(raw)
		if err != nil {
			debugLog("content handler %T failed, trying next: %v", handler, err)
			continue
		}
		return strings.TrimSpace(out)
	}
	return strings.TrimSpace(raw)
}

// truncateRunes limits s to max runes, marking the cut with "..."
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "..."
}
