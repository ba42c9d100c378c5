package txflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

func TestIsUserCancellation(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"User rejected the request.", true},
		{"MetaMask Tx Signature: User denied transaction signature.", true},
		{"ACTION_REJECTED", true},
		{"request cancelled", true},
		{`Post "http://rpc": context canceled`, false},
		{"context cancelled; user rejected the request", true},
		{"insufficient funds for gas * price + value", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsUserCancellation(tc.msg); got != tc.want {
			t.Fatalf("IsUserCancellation(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestFriendlyMessage(t *testing.T) {
	const fallback = "Something went wrong"
	cases := []struct {
		msg  string
		want string
	}{
		{"ERC20: insufficient allowance", msgAllowance},
		{"insufficient funds for transfer", msgInsufficient},
		{"network changed: 1284 => 8453", msgNetwork},
		{"intrinsic gas too low", msgGas},
		{"request timeout", msgTimeout},
		{"nonce too low", msgNonce},
		{"execution reverted", msgRevert},
		{"weird failure", fallback},
	}
	for _, tc := range cases {
		if got := FriendlyMessage(tc.msg, fallback); got != tc.want {
			t.Fatalf("FriendlyMessage(%q) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	const fallback = "fallback"
	cases := []struct {
		name      string
		err       error
		kind      Kind
		cancelled bool
		message   string
	}{
		{
			name:      "eip-1193 rejection",
			err:       codedError{code: CodeUserRejected, msg: "denied"},
			kind:      KindCancelled,
			cancelled: true,
		},
		{
			name:    "unauthorised",
			err:     codedError{code: CodeUnauthorized, msg: "not authorised"},
			kind:    KindUnauthorized,
			message: msgUnauthorized,
		},
		{
			name:    "node rejection with reason",
			err:     codedError{code: CodeTransactionReject, msg: "insufficient funds for gas"},
			kind:    KindInsufficientFunds,
			message: msgInsufficient,
		},
		{
			name:    "node rejection without reason",
			err:     codedError{code: CodePriceTooLow, msg: "rejected"},
			kind:    KindRejected,
			message: fallback,
		},
		{
			name:    "structured call error wins over message",
			err:     &CallError{Op: "send", Kind: KindNonce, Err: errors.New("insufficient allowance")},
			kind:    KindNonce,
			message: msgNonce,
		},
		{
			name:    "context cancelled",
			err:     fmt.Errorf("send: %w", context.Canceled),
			kind:    KindAborted,
			message: msgAborted,
		},
		{
			name:    "transport cancellation text",
			err:     errors.New(`Post "http://rpc": context canceled`),
			kind:    KindAborted,
			message: msgAborted,
		},
		{
			name:    "deadline",
			err:     fmt.Errorf("await: %w", context.DeadlineExceeded),
			kind:    KindTimeout,
			message: msgTimeout,
		},
		{
			name:      "message fallback cancellation",
			err:       errors.New("User rejected the request"),
			kind:      KindCancelled,
			cancelled: true,
		},
		{
			name:    "message fallback friendly",
			err:     errors.New("execution reverted: paused"),
			kind:    KindReverted,
			message: msgRevert,
		},
		{
			name:    "unmatched",
			err:     errors.New("boom"),
			kind:    KindUnknown,
			message: fallback,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err, fallback)
			if got.Kind != tc.kind || got.Cancelled != tc.cancelled || got.Message != tc.message {
				t.Fatalf("Classify = %+v, want kind=%s cancelled=%v message=%q", got, tc.kind, tc.cancelled, tc.message)
			}
		})
	}
}
