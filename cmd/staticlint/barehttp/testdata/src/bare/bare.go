package bare

import (
	"net/http"
	"strings"
)

func fetch() {
	_, _ = http.Get("http://example.com")                     // want `use of http.Get outside the request pipeline`
	_, _ = http.Post("http://example.com", "text/plain", nil) // want `use of http.Post outside the request pipeline`
	_, _ = http.Head("http://example.com")                    // want `use of http.Head outside the request pipeline`

	client := http.DefaultClient // want `use of http.DefaultClient outside the request pipeline`
	_, _ = client.Get("http://example.com")

	own := &http.Client{}
	_, _ = own.Post("http://example.com", "text/plain", strings.NewReader(""))

	_, _ = http.NewRequest(http.MethodGet, "http://example.com", nil)
}
