package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// NewDecoder returns the body decoder for a source: a CSS selector for HTML pages, a dotted JSON
// path, or the whole body.
func NewDecoder(cfg Config) harvest.Decoder {
	switch {
	case cfg.ResultSelector != "":
		return SelectorDecoder(cfg.ResultSelector)
	case cfg.ResultPath != "":
		return PathDecoder(cfg.ResultPath)
	case cfg.Kind == KindHeadless:
		return TextDecoder
	default:
		return harvest.PassthroughDecoder
	}
}

// TextDecoder stores a non-JSON body as a JSON string. A blank body means no match.
func TextDecoder(body []byte) (json.RawMessage, bool, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, false, nil
	}
	raw, err := json.Marshal(text)
	if err != nil {
		return nil, false, fmt.Errorf("encode body: %w", err)
	}
	return raw, true, nil
}

// PathDecoder extracts the value at a dotted path. A missing or empty value means no match.
func PathDecoder(path string) harvest.Decoder {
	return func(body []byte) (json.RawMessage, bool, error) {
		return ExtractPath(body, path)
	}
}

// ExtractPath walks body along path. Numeric segments index arrays.
func ExtractPath(body []byte, path string) (json.RawMessage, bool, error) {
	var root any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, false, fmt.Errorf("decode body: %w", err)
	}
	cur := root
	for _, seg := range strings.Split(strings.Trim(path, "."), ".") {
		if seg == "" {
			continue
		}
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false, nil
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, false, fmt.Errorf("path segment %q indexes an array", seg)
			}
			if idx < 0 || idx >= len(node) {
				return nil, false, nil
			}
			cur = node[idx]
		default:
			return nil, false, nil
		}
	}
	raw, err := json.Marshal(cur)
	if err != nil {
		return nil, false, fmt.Errorf("encode result: %w", err)
	}
	if harvest.IsEmptyJSON(raw) {
		return nil, false, nil
	}
	return raw, true, nil
}

// SelectorDecoder collects the trimmed text of every element matching selector as a JSON array.
// A page with no matches means no match.
func SelectorDecoder(selector string) harvest.Decoder {
	return func(body []byte) (json.RawMessage, bool, error) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, fmt.Errorf("parse html: %w", err)
		}
		var texts []string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				texts = append(texts, text)
			}
		})
		if len(texts) == 0 {
			return nil, false, nil
		}
		raw, err := json.Marshal(texts)
		if err != nil {
			return nil, false, fmt.Errorf("encode result: %w", err)
		}
		return raw, true, nil
	}
}
