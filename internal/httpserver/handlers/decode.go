package handlers

import (
	"encoding/json"
	"net/http"
)

const maxJSONBody = 64 << 10

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
