package trustplane

import (
	"encoding/json"
	"net"
	"net/http"
)

// Middleware returns an http.Handler that submits each request to the
// gateway as a network_request before passing it to next.
// Blocked requests receive a 403 with a JSON body.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := c.Execute(r.Context(), actionFromRequest(r))
		if err != nil {
			// Fail closed.
			res = Result{Reason: err.Error()}
		}

		if !res.Allowed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"blocked":   true,
				"reason":    res.Reason,
				"rule":      res.Rule,
				"record_id": res.RecordID,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// actionFromRequest maps an HTTP request to a network_request action.
func actionFromRequest(r *http.Request) Action {
	url := r.URL.String()
	if r.URL.Host == "" && r.Host != "" {
		url = r.Host + r.URL.RequestURI()
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	return Action{
		Kind: NetworkRequest,
		Attributes: map[string]any{
			"destination": host,
			"url":         url,
			"method":      r.Method,
		},
	}
}
