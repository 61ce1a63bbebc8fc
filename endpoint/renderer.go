package endpoint

import "net/http"

// StringRenderer writes Body with an optional status and content type.
//
// ContentType defaults to "text/plain; charset=utf-8" unless an earlier
// stage already set one.
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

func (tr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	if w.Header().Get("Content-Type") == "" {
		ct := tr.ContentType
		if ct == "" {
			ct = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(statusOr(tr.Status, http.StatusOK))
	if tr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(tr.Body))
	return err
}

// NoContentRenderer writes a status with no body; Status defaults to 204.
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(statusOr(ncr.Status, http.StatusNoContent))
	return nil
}

func statusOr(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}
