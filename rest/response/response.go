// Package response renders and parses the daemon's JSON response envelopes.
package response

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"

	"github.com/canonical/lxd/shared/api"
	"github.com/canonical/lxd/shared/logger"
)

// Response is an API response that can write itself to the client.
type Response interface {
	Render(w http.ResponseWriter) error
	String() string
}

type syncResponse struct {
	success  bool
	code     int
	metadata any
}

// SyncResponse returns a synchronous response with the given metadata.
func SyncResponse(success bool, metadata any) Response {
	return &syncResponse{success: success, code: http.StatusOK, metadata: metadata}
}

// EmptySyncResponse is a successful response without metadata.
var EmptySyncResponse = SyncResponse(true, nil)

// AcceptedResponse returns a synchronous response with a 202 status, for work that completes later.
func AcceptedResponse(metadata any) Response {
	return &syncResponse{success: true, code: http.StatusAccepted, metadata: metadata}
}

// Render implements Response.
func (r *syncResponse) Render(w http.ResponseWriter) error {
	status := api.Success
	if !r.success {
		status = api.Failure
	}

	resp := api.ResponseRaw{
		Type:       api.SyncResponse,
		Status:     status.String(),
		StatusCode: int(status),
		Metadata:   r.metadata,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.code)

	return json.NewEncoder(w).Encode(resp)
}

// String implements Response.
func (r *syncResponse) String() string {
	if r.success {
		return "success"
	}

	return "failure"
}

type errorResponse struct {
	code int
	msg  string
}

// ErrorResponse returns an error response with the given HTTP status code.
func ErrorResponse(code int, msg string) Response {
	return &errorResponse{code: code, msg: msg}
}

func errorf(code int, err error) Response {
	msg := http.StatusText(code)
	if err != nil {
		msg = err.Error()
	}

	return ErrorResponse(code, msg)
}

// BadRequest returns a 400 response.
func BadRequest(err error) Response {
	return errorf(http.StatusBadRequest, err)
}

// NotFound returns a 404 response.
func NotFound(err error) Response {
	return errorf(http.StatusNotFound, err)
}

// Conflict returns a 409 response.
func Conflict(err error) Response {
	return errorf(http.StatusConflict, err)
}

// InternalError returns a 500 response.
func InternalError(err error) Response {
	return errorf(http.StatusInternalServerError, err)
}

// NotImplemented returns a 501 response.
func NotImplemented(err error) Response {
	return errorf(http.StatusNotImplemented, err)
}

// Unavailable returns a 503 response.
func Unavailable(err error) Response {
	return errorf(http.StatusServiceUnavailable, err)
}

// SmartError picks the status code from err: the status of an api.StatusError, 404 for missing
// rows or files, 500 otherwise.
func SmartError(err error) Response {
	if err == nil {
		return EmptySyncResponse
	}

	var statusErr interface{ Status() int }
	if errors.As(err, &statusErr) {
		return errorf(statusErr.Status(), err)
	}

	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, fs.ErrNotExist) {
		return NotFound(err)
	}

	return InternalError(err)
}

// Render implements Response.
func (r *errorResponse) Render(w http.ResponseWriter) error {
	resp := api.ResponseRaw{
		Type:  api.ErrorResponse,
		Error: r.msg,
		Code:  r.code,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(r.code)

	return json.NewEncoder(w).Encode(resp)
}

// String implements Response.
func (r *errorResponse) String() string {
	return r.msg
}

// ParseResponse takes a http response, parses it and returns the extracted result.
func ParseResponse(resp *http.Response) (*api.Response, error) {
	defer func() { _ = resp.Body.Close() }()

	response := api.Response{}
	err := json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("Failed to fetch %q: %q", resp.Request.URL.String(), resp.Status)
		}

		return nil, err
	}

	if response.Type == api.ErrorResponse {
		return nil, api.StatusErrorf(resp.StatusCode, "%s", response.Error)
	}

	_, err = io.Copy(io.Discard, resp.Body)
	if err != nil {
		logger.Error("Failed to read response body", logger.Ctx{"error": err})
	}

	return &response, nil
}
