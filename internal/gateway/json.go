package gateway

import (
	"encoding/json"
	"net/http"
)

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
