package mcperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// MapTransportErr classifies an error returned by a Transport Port send
// or a stdio subprocess read/write into the caller-visible taxonomy. It
// mirrors the teacher's MapError, generalized from net/http-flavoured
// causes to the process/pipe-flavoured causes a stdio transport raises.
func MapTransportErr(err error) *Error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok {
		return e
	}

	if errors.Is(err, context.Canceled) {
		return Wrap(TransportError, "operation cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(Timeout, "request timeout exceeded", err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Wrap(TransportLoss, "transport closed the stream", err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Wrap(TransportLoss, fmt.Sprintf("server process exited: %s", exitErr.Error()), err).
			WithDetails(map[string]any{"exit_code": exitErr.ExitCode()})
	}

	var pathErr *exec.Error
	if errors.As(err, &pathErr) {
		return Wrap(TransportError, fmt.Sprintf("failed to start server process: %v", pathErr.Err), err)
	}

	errStr := err.Error()
	if strings.Contains(errStr, "broken pipe") || strings.Contains(errStr, "file already closed") {
		return Wrap(TransportLoss, errStr, err)
	}

	return Wrap(TransportError, errStr, err)
}

// MapJSONRPCError converts a JSON-RPC error object into a caller-visible
// SERVER error, preserving the wire code and message verbatim.
func MapJSONRPCError(code int, message string, data any) *Error {
	return ServerError(code, message, data)
}

// MapProtocolErr builds a PROTOCOL variant for malformed frames tied to a
// specific caller (e.g. an id mismatch or an unparsable result payload).
func MapProtocolErr(message string) *Error {
	return New(Protocol, message)
}
