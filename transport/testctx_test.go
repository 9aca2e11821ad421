package transport

import (
	"context"
	"testing"
)

// testContext stands in for (*testing.T).Context, which needs Go 1.24:
// the returned context is canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
