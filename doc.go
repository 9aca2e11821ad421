// Package convoy is an HTTP client built around reusable transfers.
//
// A [Transfer] runs one request at a time and keeps its configuration,
// parsed response, cookies and retry budget across runs. A
// [TransferPool] drives many transfers concurrently through a single
// transport multiplexer with bounded concurrency, optional rate
// limiting and in-place retries. The transport contract lives in the
// transport subpackage; its default implementation sits on net/http.
package convoy
