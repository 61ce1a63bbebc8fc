package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONRenderer writes Value as JSON with Content-Type "application/json".
// Status defaults to 200. The encoder does not escape HTML and appends a
// trailing newline.
type JSONRenderer struct {
	Status int
	Value  interface{}
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOr(jr.Status, http.StatusOK))

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}
