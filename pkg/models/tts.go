package models

// ErrorResponse is the error body of both servers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Voice is one entry of GET /api/v1/voices.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

type VoicesResponse struct {
	Voices []Voice `json:"voices"`
}

// HealthResponse is the body of GET /health on both servers.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}
