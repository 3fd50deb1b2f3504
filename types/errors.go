package types

import (
	"errors"
	"fmt"
)

// Errors reported by the host itself, before or instead of contract output.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrCodeMalformed       = errors.New("code is malformed")
	ErrUnsupportedABI      = errors.New("code declares unsupported ABI")
	ErrCodeNotFound        = errors.New("code not found")
	ErrInstanceNotFound    = errors.New("instance not found")
	ErrForbidden           = errors.New("forbidden by policy")
	ErrUnsupported         = errors.New("unsupported")
	ErrReadOnly            = errors.New("read-only call attempted modifications")
	ErrCodeAlreadyUpgraded = errors.New("code already upgraded")
)

// ErrModuleLoadingFailed indicates an infrastructure failure while preparing
// the guest module, before any contract code ran.
var ErrModuleLoadingFailed = errors.New("module loading failed")

// ErrExecutionFailed wraps runtime faults of the guest (traps, bad results).
var ErrExecutionFailed = errors.New("execution failed")

// OutOfGasError is returned when execution exhausts its gas budget.
type OutOfGasError struct{}

func (e OutOfGasError) Error() string { return "out of gas" }

// CodeTooLargeError is returned when uploaded code exceeds the size limit.
type CodeTooLargeError struct {
	Size    uint32
	MaxSize uint32
}

func (e CodeTooLargeError) Error() string {
	return fmt.Sprintf("code too large (size: %d max: %d)", e.Size, e.MaxSize)
}

// CodeMissingExportError is returned when code lacks a required export.
type CodeMissingExportError struct {
	Export string
}

func (e CodeMissingExportError) Error() string {
	return fmt.Sprintf("code is missing required export: %s", e.Export)
}

func (e CodeMissingExportError) Unwrap() error { return ErrCodeMalformed }

// CodeReservedExportError is returned when code declares a reserved export.
type CodeReservedExportError struct {
	Export string
}

func (e CodeReservedExportError) Error() string {
	return fmt.Sprintf("code declares reserved export: %s", e.Export)
}

func (e CodeReservedExportError) Unwrap() error { return ErrCodeMalformed }

// CodeDeclaresStartFunctionError is returned when code declares a start function.
type CodeDeclaresStartFunctionError struct{}

func (e CodeDeclaresStartFunctionError) Error() string {
	return "code declares start function"
}

func (e CodeDeclaresStartFunctionError) Unwrap() error { return ErrCodeMalformed }

// CodeDeclaresTooManyMemoriesError is returned when code declares more than
// one linear memory.
type CodeDeclaresTooManyMemoriesError struct{}

func (e CodeDeclaresTooManyMemoriesError) Error() string {
	return "code declares too many memories"
}

func (e CodeDeclaresTooManyMemoriesError) Unwrap() error { return ErrCodeMalformed }

// CallDepthExceededError is returned when a subcall would exceed the depth cap.
type CallDepthExceededError struct {
	Depth    uint16
	MaxDepth uint16
}

func (e CallDepthExceededError) Error() string {
	return fmt.Sprintf("call depth exceeded (depth: %d max: %d)", e.Depth, e.MaxDepth)
}

// TooManySubcallsError is returned when a call emits too many subcall messages.
type TooManySubcallsError struct {
	Count uint16
	Max   uint16
}

func (e TooManySubcallsError) Error() string {
	return fmt.Sprintf("too many subcalls (count: %d max: %d)", e.Count, e.Max)
}

// ResultTooLargeError is returned when a contract result exceeds the size cap.
type ResultTooLargeError struct {
	Size    uint32
	MaxSize uint32
}

func (e ResultTooLargeError) Error() string {
	return fmt.Sprintf("result too large (size: %d max: %d)", e.Size, e.MaxSize)
}

// ContractError is a logical failure reported by the contract itself. The
// (module, code, message) triple is forwarded verbatim from the guest; the
// module name is namespaced under the owning code ID so contract error spaces
// never collide.
type ContractError struct {
	CodeID  CodeID
	Module  string
	Code    uint32
	Message string
}

// NewContractError builds a ContractError for the given code ID.
func NewContractError(codeID CodeID, module string, code uint32, message string) *ContractError {
	return &ContractError{
		CodeID:  codeID,
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// ModuleName returns the namespaced module name of the error.
func (e *ContractError) ModuleName() string {
	if e.Module == "" {
		return fmt.Sprintf("%s.%d", ModuleName, e.CodeID)
	}
	return fmt.Sprintf("%s.%d.%s", ModuleName, e.CodeID, e.Module)
}

func (e *ContractError) Error() string {
	return e.Message
}
