package convoy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/northrook/convoy/decode"
)

// File marks a value in request data as a file upload. Its presence
// anywhere in the data forces multipart encoding.
type File struct {
	// Path is the local file to upload.
	Path string
	// Name overrides the filename sent to the server. Defaults to the
	// base name of Path.
	Name string
	// ContentType overrides the part's content type. Defaults to
	// application/octet-stream.
	ContentType string
}

const formURLEncoded = "application/x-www-form-urlencoded"

// BuildPostData serializes request data into a body. The returned
// content type is non-empty when the encoding implies one the caller
// should set: form encoding for key/value data, multipart with its
// boundary when file uploads are present.
//
// A JSON content type already configured on the request routes
// serializable data through the JSON encoder instead. Strings and raw
// bytes pass through untouched. Mapping data is flattened to bracket
// notation (parent[child]) and URL-encoded with nil values preserved
// as empty strings rather than dropped.
func BuildPostData(contentType string, data any) ([]byte, string, error) {
	if data == nil {
		return nil, "", nil
	}

	switch v := data.(type) {
	case string:
		return []byte(v), "", nil
	case []byte:
		return v, "", nil
	case url.Values:
		return []byte(v.Encode()), formURLEncoded, nil
	}

	if decode.IsJSONType(contentType) && jsonEncodable(data) {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, "", &SerializationError{Err: err}
		}
		return b, "", nil
	}

	pairs, err := flatten("", data)
	if err != nil {
		return nil, "", err
	}

	if hasFileRefs(pairs) {
		return buildMultipart(pairs)
	}

	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(fmt.Sprint(p.value)))
	}
	return []byte(sb.String()), formURLEncoded, nil
}

type pair struct {
	key   string
	value any
}

// flatten reduces nested mappings and slices to single-level keys in
// bracket notation, keeping leaf values intact so file markers survive.
// Keys are sorted at each level for deterministic output.
func flatten(prefix string, data any) ([]pair, error) {
	key := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "[" + k + "]"
	}

	switch v := data.(type) {
	case map[string]string:
		pairs := make([]pair, 0, len(v))
		for _, k := range sortedKeys(v) {
			pairs = append(pairs, pair{key: key(k), value: v[k]})
		}
		return pairs, nil
	case map[string]any:
		var pairs []pair
		for _, k := range sortedKeys(v) {
			sub, err := flattenValue(key(k), v[k])
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, sub...)
		}
		return pairs, nil
	case []any:
		var pairs []pair
		for i, item := range v {
			sub, err := flattenValue(key(fmt.Sprint(i)), item)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, sub...)
		}
		return pairs, nil
	}

	return nil, &SerializationError{Err: fmt.Errorf("unsupported data type %T", data)}
}

func flattenValue(key string, value any) ([]pair, error) {
	switch v := value.(type) {
	case nil:
		// Preserved as an empty value; dropping nil keys breaks
		// payloads that depend on explicit nulls.
		return []pair{{key: key, value: ""}}, nil
	case map[string]string, map[string]any, []any:
		return flatten(key, v)
	case File:
		return []pair{{key: key, value: v}}, nil
	case *File:
		if v == nil {
			return []pair{{key: key, value: ""}}, nil
		}
		return []pair{{key: key, value: *v}}, nil
	default:
		return []pair{{key: key, value: v}}, nil
	}
}

// hasFileRefs reports whether any leaf is a [File] or an @-prefixed
// path to an existing file, either of which forces multipart encoding.
func hasFileRefs(pairs []pair) bool {
	for _, p := range pairs {
		if isFileRef(p.value) {
			return true
		}
	}
	return false
}

func isFileRef(value any) bool {
	switch v := value.(type) {
	case File:
		return true
	case string:
		if !strings.HasPrefix(v, "@") {
			return false
		}
		st, err := os.Stat(v[1:])
		return err == nil && !st.IsDir()
	default:
		return false
	}
}

func buildMultipart(pairs []pair) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, p := range pairs {
		var err error
		switch v := p.value.(type) {
		case File:
			err = writeFilePart(w, p.key, v)
		case string:
			if isFileRef(v) {
				err = writeFilePart(w, p.key, File{Path: v[1:]})
			} else {
				err = w.WriteField(p.key, v)
			}
		default:
			err = w.WriteField(p.key, fmt.Sprint(v))
		}
		if err != nil {
			return nil, "", &SerializationError{Err: err}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", &SerializationError{Err: err}
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, field string, f File) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("opening upload %q: %w", f.Path, err)
	}
	defer src.Close()

	name := f.Name
	if name == "" {
		name = filepath.Base(f.Path)
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copying upload %q: %w", f.Path, err)
	}
	return nil
}

func jsonEncodable(data any) bool {
	if _, ok := data.(json.Marshaler); ok {
		return true
	}
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	default:
		return false
	}
}

// buildQuery serializes data for merging into a URL query string.
// Unlike [BuildPostData], nil values are dropped, matching conventional
// query-builder behavior.
func buildQuery(data any) (string, error) {
	switch v := data.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case url.Values:
		return v.Encode(), nil
	case map[string]string:
		vals := url.Values{}
		for k, val := range v {
			vals.Set(k, val)
		}
		return vals.Encode(), nil
	case map[string]any:
		vals := url.Values{}
		for k, val := range v {
			if val == nil {
				continue
			}
			vals.Set(k, fmt.Sprint(val))
		}
		return vals.Encode(), nil
	}

	return "", &SerializationError{Err: fmt.Errorf("unsupported query data type %T", data)}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
