package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"omnipool/native/amount"
	"omnipool/native/chains"
	"omnipool/services/txflow"
	"omnipool/services/wallet"
)

// errBadRequest marks malformed client input.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, chains.ErrUnsupportedChain),
		errors.Is(err, chains.ErrUnknownToken),
		errors.Is(err, amount.ErrInvalidAmount),
		errors.Is(err, amount.ErrOverflow):
		return http.StatusBadRequest
	case errors.Is(err, txflow.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, txflow.ErrActionInFlight),
		errors.Is(err, wallet.ErrNotConnected),
		errors.Is(err, wallet.ErrWrongChain):
		return http.StatusConflict
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == wallet.CodeUserRejected {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	return nil
}

// decodeOptionalBody accepts an empty body and leaves dst untouched.
func decodeOptionalBody(r *http.Request, dst any) error {
	err := decodeBody(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
