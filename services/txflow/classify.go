package txflow

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Provider and node error codes with a fixed meaning.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeTransactionReject = -32003
	CodePriceTooLow       = -32010
)

// Kind is the structured failure category.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindCancelled         Kind = "cancelled"
	KindUnauthorized      Kind = "unauthorized"
	KindRejected          Kind = "rejected"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAllowance         Kind = "allowance"
	KindGas               Kind = "gas"
	KindNonce             Kind = "nonce"
	KindReverted          Kind = "reverted"
	KindTimeout           Kind = "timeout"
	KindNetwork           Kind = "network"

	// KindAborted marks work stopped by this process, such as a shutdown,
	// rather than by the account holder.
	KindAborted Kind = "aborted"
)

// Remediation text shown for each failure category.
const (
	msgAllowance    = "Token allowance is too low. Approve the token for this pool and try again."
	msgInsufficient = "Insufficient balance to complete this transaction."
	msgNetwork      = "Network error. Check your connection and try again."
	msgGas          = "Gas estimation failed. The transaction would likely revert or needs more gas."
	msgTimeout      = "The request timed out. Please try again."
	msgNonce        = "Transaction nonce mismatch. Clear pending transactions in your wallet and retry."
	msgRevert       = "The transaction was reverted by the contract."
	msgUnauthorized = "The wallet has not authorised this site. Reconnect your wallet and try again."
	msgAborted      = "The request was interrupted before it completed. Please try again."
)

var cancellationPhrases = []string{
	"user rejected",
	"user denied",
	"user cancelled",
	"user canceled",
	"rejected the request",
	"action_rejected",
	"cancelled",
	"canceled",
}

// abortPhrases are how Go transports render a cancelled context. They name
// the process giving up, not the user.
var abortPhrases = []string{
	"context canceled",
	"context cancelled",
}

// IsUserCancellation reports whether message describes a request the user
// declined voluntarily.
func IsUserCancellation(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range abortPhrases {
		lower = strings.ReplaceAll(lower, phrase, "")
	}
	for _, phrase := range cancellationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// friendlyRules is ordered: "insufficient allowance" must hit the allowance
// rule before the balance rule.
var friendlyRules = []struct {
	needle string
	kind   Kind
}{
	{"allowance", KindAllowance},
	{"insufficient", KindInsufficientFunds},
	{"network", KindNetwork},
	{"gas", KindGas},
	{"timeout", KindTimeout},
	{"nonce", KindNonce},
	{"revert", KindReverted},
}

// FriendlyMessage maps a raw failure message onto remediation text. Messages
// matching no rule return fallback.
func FriendlyMessage(message, fallback string) string {
	if kind := kindFromMessage(message); kind != KindUnknown {
		return messageFor(kind, fallback)
	}
	return fallback
}

func kindFromMessage(message string) Kind {
	lower := strings.ToLower(message)
	for _, rule := range friendlyRules {
		if strings.Contains(lower, rule.needle) {
			return rule.kind
		}
	}
	return KindUnknown
}

func messageFor(kind Kind, fallback string) string {
	switch kind {
	case KindAllowance:
		return msgAllowance
	case KindInsufficientFunds:
		return msgInsufficient
	case KindNetwork:
		return msgNetwork
	case KindGas:
		return msgGas
	case KindTimeout:
		return msgTimeout
	case KindNonce:
		return msgNonce
	case KindReverted:
		return msgRevert
	case KindUnauthorized:
		return msgUnauthorized
	case KindAborted:
		return msgAborted
	default:
		return fallback
	}
}

// Classification is the verdict for one failure.
type Classification struct {
	Kind Kind
	// Cancelled failures are never surfaced; Message is empty for them.
	Cancelled bool
	Message   string
}

// Classify inspects err. Structured signals win: a CallError kind, the
// JSON-RPC / EIP-1193 error code, then context errors. Only unstructured
// errors fall back to message matching. A cancelled context is a failure,
// never a user cancellation: only the wallet can report that.
func Classify(err error, fallback string) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Message: fallback}
	}
	var callErr *CallError
	if errors.As(err, &callErr) && callErr.Kind != "" && callErr.Kind != KindUnknown {
		return fromKind(callErr.Kind, err.Error(), fallback)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUserRejected:
			return cancelled()
		case CodeUnauthorized:
			return fromKind(KindUnauthorized, err.Error(), fallback)
		case CodeTransactionReject, CodePriceTooLow:
			// The node refused the transaction; the message says why.
			if kind := kindFromMessage(err.Error()); kind != KindUnknown {
				return fromKind(kind, err.Error(), fallback)
			}
			return Classification{Kind: KindRejected, Message: fallback}
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return fromKind(KindAborted, err.Error(), fallback)
	case errors.Is(err, context.DeadlineExceeded):
		return fromKind(KindTimeout, err.Error(), fallback)
	}

	message := err.Error()
	if IsUserCancellation(message) {
		return cancelled()
	}
	lower := strings.ToLower(message)
	for _, phrase := range abortPhrases {
		if strings.Contains(lower, phrase) {
			return fromKind(KindAborted, message, fallback)
		}
	}
	return Classification{Kind: kindFromMessage(message), Message: FriendlyMessage(message, fallback)}
}

func cancelled() Classification {
	return Classification{Kind: KindCancelled, Cancelled: true}
}

func fromKind(kind Kind, raw, fallback string) Classification {
	if kind == KindCancelled {
		return cancelled()
	}
	message := messageFor(kind, "")
	if message == "" {
		message = FriendlyMessage(raw, fallback)
	}
	return Classification{Kind: kind, Message: message}
}
