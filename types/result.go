package types

import (
	"github.com/fxamacker/cbor/v2"
)

// RawValue is an opaque CBOR-encoded value passed through untouched.
type RawValue = cbor.RawMessage

// ExecutionOk is the success payload of a contract execution.
type ExecutionOk struct {
	// Data is the CBOR-encoded return value of the call.
	Data RawValue `cbor:"data,omitempty"`
	// Messages are emitted messages, processed after the call completes.
	Messages []Message `cbor:"messages,omitempty"`
	// Events are emitted contract events.
	Events []ContractEvent `cbor:"events,omitempty"`
}

// ExecutionFailed is the failure payload of a contract execution.
type ExecutionFailed struct {
	Module  string `cbor:"module,omitempty"`
	Code    uint32 `cbor:"code"`
	Message string `cbor:"message,omitempty"`
}

// ExecutionResult is what the guest returns from an entry point.
// Exactly one field is set.
type ExecutionResult struct {
	Ok     *ExecutionOk     `cbor:"ok,omitempty"`
	Failed *ExecutionFailed `cbor:"fail,omitempty"`
}

// ContractEvent is an event emitted by a contract.
type ContractEvent struct {
	// ID is the instance that emitted the event.
	ID InstanceID `cbor:"id"`
	// Data is the CBOR-encoded event payload.
	Data []byte `cbor:"data,omitempty"`
}

// NotifyReply says when a contract wants to be notified of a subcall reply.
type NotifyReply uint8

const (
	NotifyReplyNever     NotifyReply = 0
	NotifyReplyOnError   NotifyReply = 1
	NotifyReplyOnSuccess NotifyReply = 2
	NotifyReplyAlways    NotifyReply = 3
)

// CallMessage requests a method call dispatched in a child context after the
// emitting call completes. It is how contracts call other contracts.
type CallMessage struct {
	ID     uint64      `cbor:"id,omitempty"`
	Reply  NotifyReply `cbor:"reply"`
	Method string      `cbor:"method"`
	Body   RawValue    `cbor:"body"`
	MaxGas uint64      `cbor:"max_gas,omitempty"`
	Data   RawValue    `cbor:"data,omitempty"`
}

// Message is a post-execution request emitted by a contract.
// Exactly one field is set.
type Message struct {
	Call *CallMessage `cbor:"call,omitempty"`
}

// CallResult is the outcome delivered in a reply.
// Exactly one field is set.
type CallResult struct {
	Ok     RawValue         `cbor:"ok,omitempty"`
	Failed *ExecutionFailed `cbor:"fail,omitempty"`
}

// IsSuccess reports whether the call result is a success.
func (cr *CallResult) IsSuccess() bool {
	return cr.Failed == nil
}

// CallReply is a reply to a delivered call message.
type CallReply struct {
	ID     uint64     `cbor:"id,omitempty"`
	Result CallResult `cbor:"result"`
	Data   RawValue   `cbor:"data,omitempty"`
}

// Reply is delivered to a contract's handle_reply entry point.
// Exactly one field is set.
type Reply struct {
	Call *CallReply `cbor:"call,omitempty"`
}
