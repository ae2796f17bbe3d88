package pipeline

import "net/http"

func send() {
	_, _ = http.Get("http://example.com")
	_ = http.DefaultClient
}
