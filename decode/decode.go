// Package decode provides best-effort response body decoders.
//
// Decoders never fail: input that cannot be parsed is returned unchanged
// so callers can always inspect the raw bytes. Content-type matching
// covers the JSON and XML families including vendor suffixes.
package decode

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"encoding/xml"
	"io"
	"regexp"
	"strings"
)

// Func transforms a raw response body into a decoded value. A Func must
// return its input unchanged when decoding fails.
type Func func(raw []byte) any

var (
	jsonTypeRe = regexp.MustCompile(`(?i)^(?:application|text)/(?:[a-z]+(?:[.-][0-9a-z]+)*[+.]|x-)?json(?:;|$)`)
	xmlTypeRe  = regexp.MustCompile(`(?i)^(?:text/|application/(?:atom\+|rss\+|soap\+)?)xml`)
)

// IsJSONType reports whether contentType names a JSON body, including
// vendor "+json" suffixes and "x-" prefixed variants.
func IsJSONType(contentType string) bool {
	return jsonTypeRe.MatchString(strings.TrimSpace(contentType))
}

// IsXMLType reports whether contentType names an XML body.
func IsXMLType(contentType string) bool {
	return xmlTypeRe.MatchString(strings.TrimSpace(contentType))
}

// JSON parses raw as JSON, preserving number precision as [json.Number].
// Unparseable input is returned unchanged.
func JSON(raw []byte) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	// Trailing garbage after a valid prefix is not a JSON document.
	if _, err := dec.Token(); err != io.EOF {
		return raw
	}
	return v
}

// XML parses raw into a generic tree of maps and strings: a text-only
// element becomes a string, an element with children becomes a
// map[string]any (repeated child names collapse into []any), attributes
// appear under "@name" keys and mixed text under "#text". Unparseable
// input is returned unchanged.
func XML(raw []byte) any {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return raw
		}
		if se, ok := tok.(xml.StartElement); ok {
			v, err := decodeElement(dec, se)
			if err != nil {
				return raw
			}
			return map[string]any{se.Name.Local: v}
		}
	}
}

func decodeElement(dec *xml.Decoder, se xml.StartElement) (any, error) {
	node := make(map[string]any)
	for _, a := range se.Attr {
		node["@"+a.Name.Local] = a.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			addChild(node, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			s := strings.TrimSpace(text.String())
			if len(node) == 0 {
				return s, nil
			}
			if s != "" {
				node["#text"] = s
			}
			return node, nil
		}
	}
}

func addChild(node map[string]any, name string, v any) {
	existing, ok := node[name]
	if !ok {
		node[name] = v
		return
	}
	if list, ok := existing.([]any); ok {
		node[name] = append(list, v)
		return
	}
	node[name] = []any{existing, v}
}

var gzipMagic = []byte{0x1f, 0x8b, 0x08}

// IsGzipped reports whether a body should be treated as gzip data,
// either because the Content-Encoding header declares it or because the
// body opens with the gzip magic bytes.
func IsGzipped(contentEncoding string, body []byte) bool {
	if strings.EqualFold(strings.TrimSpace(contentEncoding), "gzip") {
		return true
	}
	return bytes.HasPrefix(body, gzipMagic)
}

// Gunzip decompresses raw, returning the input unchanged when it is not
// valid gzip data. Decompression is best-effort, never an error.
func Gunzip(raw []byte) []byte {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return raw
	}
	return out
}
