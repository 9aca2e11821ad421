package convoy_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/northrook/convoy"
)

func ExampleNew() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"msg":"hello"}`)
	}))
	defer ts.Close()

	t, err := convoy.New(convoy.WithRetries(2))
	if err != nil {
		fmt.Println("build error:", err)
		return
	}
	defer t.Close()

	if err := t.Get(context.Background(), ts.URL, nil); err != nil {
		fmt.Println("transfer error:", err)
		return
	}

	fmt.Println(t.StatusCode(), t.Extract("msg").String())
	// Output: 200 hello
}

func ExampleNewPool() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Path)
	}))
	defer ts.Close()

	pool, err := convoy.NewPool(convoy.WithConcurrency(2))
	if err != nil {
		fmt.Println("build error:", err)
		return
	}

	for _, path := range []string{"/a", "/b", "/c"} {
		if _, err := pool.AddGet(ts.URL+path, nil); err != nil {
			fmt.Println("queue error:", err)
			return
		}
	}
	if err := pool.Start(context.Background()); err != nil {
		fmt.Println("pool error:", err)
		return
	}

	for _, t := range pool.Finished() {
		fmt.Println(t.ID(), string(t.Body()))
	}
	// Output:
	// 1 /a
	// 2 /b
	// 3 /c
}
