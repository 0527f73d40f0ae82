package response

import (
	"net/http"

	gojson "github.com/goccy/go-json"

	"github.com/dmitrymomot/docrelay/core/handler"
)

// JSON encodes v with status 200.
func JSON(v any) handler.Response {
	return JSONWithStatus(v, http.StatusOK)
}

// JSONWithStatus encodes v with the given status. A zero status means 200,
// or 204 when v is nil. Bodies are omitted for 204 and 304.
func JSONWithStatus(v any, status int) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		code := status
		if code == 0 {
			if v == nil {
				code = http.StatusNoContent
			} else {
				code = http.StatusOK
			}
		}

		switch code {
		case http.StatusNoContent, http.StatusNotModified:
			w.WriteHeader(code)
			return nil
		}

		// Encode first so a marshal failure can still become an error response.
		body, err := gojson.Marshal(v)
		if err != nil {
			return err
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		_, err = w.Write(append(body, '\n'))
		return err
	}
}
