package dto

// ErrorResponse is the body of every failed request. Kind is a stable
// machine-readable name such as "not_found" or "dangling_reference".
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
