package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	cerrors "claimbridge/core/errors"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeDuplicate      = -32010
	codeRateLimited    = -32020
	codeInvalidProof   = -32030
	codeCapacity       = -32040
	codeSequence       = -32041
	codePaused         = -32050
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps the shared error taxonomy onto HTTP status and
// JSON-RPC codes. The stable short code travels in data.
func writeDomainError(w http.ResponseWriter, id interface{}, err error) {
	status, code := classify(err)
	message := err.Error()
	if code == codeServerError {
		message = "internal error"
	}
	writeError(w, status, id, code, message, cerrors.Code(err))
}

func classify(err error) (int, int) {
	switch {
	case errors.Is(err, cerrors.ErrUnauthorized):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, cerrors.ErrInvalidInput), errors.Is(err, cerrors.ErrChannelRejected):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, cerrors.ErrInvalidProof):
		return http.StatusUnprocessableEntity, codeInvalidProof
	case errors.Is(err, cerrors.ErrAlreadyUsed):
		return http.StatusConflict, codeDuplicate
	case errors.Is(err, cerrors.ErrCapacityExceeded):
		return http.StatusConflict, codeCapacity
	case errors.Is(err, cerrors.ErrSequenceViolation):
		return http.StatusConflict, codeSequence
	case errors.Is(err, cerrors.ErrPaused):
		return http.StatusServiceUnavailable, codePaused
	default:
		return http.StatusInternalServerError, codeServerError
	}
}
