package convoy

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/northrook/convoy/transport"
	"github.com/northrook/convoy/urlx"
)

// MethodSearch is the non-standard SEARCH method, body-bearing like
// PUT.
const MethodSearch = "SEARCH"

// Get performs a GET request. Query data — a map, [url.Values], or a
// raw query string — is merged into the URL.
func (t *Transfer) Get(ctx context.Context, rawURL string, data any) error {
	if err := t.configureMethod(http.MethodGet, rawURL, data); err != nil {
		return err
	}
	return t.run(ctx)
}

// Head performs a bodiless HEAD request. Query data is merged into the
// URL.
func (t *Transfer) Head(ctx context.Context, rawURL string, data any) error {
	if err := t.configureMethod(http.MethodHead, rawURL, data); err != nil {
		return err
	}
	return t.run(ctx)
}

// Delete performs a DELETE request. Query data is merged into the URL.
func (t *Transfer) Delete(ctx context.Context, rawURL string, data any) error {
	if err := t.configureMethod(http.MethodDelete, rawURL, data); err != nil {
		return err
	}
	return t.run(ctx)
}

// Options performs an OPTIONS request. Query data is merged into the
// URL.
func (t *Transfer) Options(ctx context.Context, rawURL string, data any) error {
	if err := t.configureMethod(http.MethodOptions, rawURL, data); err != nil {
		return err
	}
	return t.run(ctx)
}

// Post performs a POST request with data serialized through
// [BuildPostData].
func (t *Transfer) Post(ctx context.Context, rawURL string, data any) error {
	if err := t.configureMethod(http.MethodPost, rawURL, data); err != nil {
		return err
	}
	return t.run(ctx)
}

// Put performs a PUT request with data serialized through
// [BuildPostData].
func (t *Transfer) Put(ctx context.Context, rawURL string, data any) error {
	if err := t.configureMethod(http.MethodPut, rawURL, data); err != nil {
		return err
	}
	return t.run(ctx)
}

// Patch performs a PATCH request with data serialized through
// [BuildPostData].
func (t *Transfer) Patch(ctx context.Context, rawURL string, data any) error {
	if err := t.configureMethod(http.MethodPatch, rawURL, data); err != nil {
		return err
	}
	return t.run(ctx)
}

// Search performs a SEARCH request with data serialized through
// [BuildPostData].
func (t *Transfer) Search(ctx context.Context, rawURL string, data any) error {
	if err := t.configureMethod(MethodSearch, rawURL, data); err != nil {
		return err
	}
	return t.run(ctx)
}

// configureMethod normalizes (url, data) into a canonical request:
// bodiless methods merge data into the query string, body-bearing
// methods serialize it. Configuration mistakes surface here, before
// anything touches the network.
func (t *Transfer) configureMethod(method, rawURL string, data any) error {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		if err := t.setURLWithQuery(rawURL, data); err != nil {
			return err
		}
		t.setOpt(transport.OptionBody, []byte(nil))
		if t.bodyReader {
			t.setOpt(transport.OptionBodyReader, nil)
			t.bodyReader = false
		}
		if method == http.MethodHead {
			t.setOpt(transport.OptionNoBody, true)
		}

	case http.MethodPost, http.MethodPut, http.MethodPatch, MethodSearch:
		if err := t.setURLWithQuery(rawURL, nil); err != nil {
			return err
		}

		body, contentType, err := BuildPostData(t.reqHeaders.Get("Content-Type"), data)
		if err != nil {
			return err
		}

		switch {
		case strings.HasPrefix(contentType, "multipart/"):
			// The boundary must match the body just built.
			t.SetHeader("Content-Type", contentType)
		case contentType != "" && t.reqHeaders.Get("Content-Type") == "":
			t.SetHeader("Content-Type", contentType)
		}

		t.setOpt(transport.OptionBody, body)

		if method != http.MethodPost {
			if len(body) > 0 && !t.bodyReader {
				t.SetHeader("Content-Length", strconv.Itoa(len(body)))
			} else {
				t.RemoveHeader("Content-Length")
			}
		}

	default:
		if err := t.setURLWithQuery(rawURL, data); err != nil {
			return err
		}
	}

	t.method = method
	t.setOpt(transport.OptionMethod, method)
	return nil
}

func (t *Transfer) setURLWithQuery(rawURL string, data any) error {
	query, err := buildQuery(data)
	if err != nil {
		return err
	}

	abs, err := urlx.Resolve(t.baseURL, rawURL)
	if err != nil {
		return &ResolutionError{URL: rawURL, Err: err}
	}
	if query != "" {
		abs = urlx.WithQuery(abs, query)
	}
	abs = urlx.Clean(abs)

	t.url = abs
	t.setOpt(transport.OptionURL, abs)
	return nil
}
