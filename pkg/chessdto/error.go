package chessdto

// DomainError is the JSON body of every rejected request.
type DomainError struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess service error"
}

// StreamError is the payload of the terminal "error" stream event.
type StreamError struct {
	Error string `json:"error"`
}
