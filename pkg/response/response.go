package response

// Response represents a standard API response format
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       string      `json:"code,omitempty"` // error kind, e.g. "illegal_transition"
	Details    interface{} `json:"details,omitempty"`
}

// PagedData wraps a list page with its total count
type PagedData struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Paged returns a success response for one page of a list
func Paged(statusCode int, items interface{}, total int64, page, limit int) Response {
	return Success(statusCode, PagedData{Items: items, Total: total, Page: page, Limit: limit})
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// ErrorWithCode returns an error response carrying the error kind and any
// client-safe details
func ErrorWithCode(statusCode int, code, message string, details map[string]any) Response {
	r := Error(statusCode, message)
	r.Code = code
	if len(details) > 0 {
		r.Details = details
	}
	return r
}
