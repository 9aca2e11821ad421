package convoy

import (
	"strconv"
	"strings"

	"github.com/northrook/convoy/decode"
	"github.com/northrook/convoy/headers"
)

// StatusLineKey is the synthetic header name under which the response
// status line is stored in the parsed header set.
const StatusLineKey = "Status-Line"

// parseResponseHeaders turns raw header text into an ordered,
// case-insensitive store. The raw text may hold one block per redirect
// hop plus the final response; only the last block beginning with the
// HTTP status-line prefix is kept. Repeated names within the block are
// concatenated with a comma so multi-value headers survive.
func parseResponseHeaders(raw string) *headers.Store {
	parsed := headers.New()
	if raw == "" {
		return parsed
	}

	block := lastStatusBlock(raw)
	if block == "" {
		return parsed
	}

	lines := strings.Split(block, "\r\n")
	parsed.Set(StatusLineKey, strings.TrimSpace(lines[0]))

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		parsed.Add(name, strings.TrimSpace(value))
	}

	return parsed
}

func lastStatusBlock(raw string) string {
	blocks := strings.Split(raw, "\r\n\r\n")
	for i := len(blocks) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(blocks[i])
		if len(candidate) >= 5 && strings.EqualFold(candidate[:5], "HTTP/") {
			return candidate
		}
	}
	return ""
}

// statusFromLine extracts the numeric status code from a status line
// such as "HTTP/1.1 404 Not Found". Unparseable input yields 0.
func statusFromLine(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// decodeBody maps the raw body to its decoded value. The declared
// Content-Type picks the decoder; when the result is still raw bytes,
// a declared or sniffed gzip layer is decompressed best-effort and the
// decompressed bytes substituted.
func (t *Transfer) decodeBody(raw []byte) any {
	contentType := t.responseHeaders.Get("Content-Type")

	var decoded any
	switch {
	case decode.IsJSONType(contentType):
		decoded = t.jsonDecoder(raw)
	case decode.IsXMLType(contentType):
		decoded = t.xmlDecoder(raw)
	case t.defaultDecoder != nil:
		decoded = t.defaultDecoder(raw)
	default:
		decoded = raw
	}

	if b, ok := decoded.([]byte); ok {
		if decode.IsGzipped(t.responseHeaders.Get("Content-Encoding"), b) {
			decoded = decode.Gunzip(b)
		}
	}

	return decoded
}
