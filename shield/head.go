package shield

import "net/http"

// HeadToGet lets GET-only routes answer HEAD probes. Uptime checkers
// commonly send HEAD to /healthz; without this they would get 405 from
// a chi router that only has r.Get registered. The stdlib server drops
// the response body for HEAD on its own, so rewriting the method is
// enough.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		r.Method = http.MethodGet
		next.ServeHTTP(w, r)
	})
}
