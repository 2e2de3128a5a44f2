package errmsg

// StatusError is an error that carries the HTTP status it should be reported with.
type StatusError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func NewStatusError(statusCode int, message string) StatusError {
	return StatusError{
		StatusCode: statusCode,
		Message:    message,
	}
}

func (se StatusError) Error() string {
	return se.Message
}
