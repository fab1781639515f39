package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

type ErrorKind string

const (
	ErrorKindNotFound          ErrorKind = "NOT_FOUND"
	ErrorKindInvalidState      ErrorKind = "INVALID_STATE"
	ErrorKindConflict          ErrorKind = "CONFLICT"
	ErrorKindValidationFailure ErrorKind = "VALIDATION_FAILURE"
)

// AppError is the error returned by every workflow operation.
// Error() is the bare message so bulk callers can report it verbatim.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewNotFound(entity string, id any) *AppError {
	return &AppError{Kind: ErrorKindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

func NewInvalidState(entity string, expected []string, actual string) *AppError {
	return &AppError{
		Kind:    ErrorKindInvalidState,
		Message: fmt.Sprintf("%s must be in status %s but is %s", entity, strings.Join(expected, "/"), actual),
	}
}

func NewInvalidStatef(format string, args ...any) *AppError {
	return &AppError{Kind: ErrorKindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func NewConflict(format string, args ...any) *AppError {
	return &AppError{Kind: ErrorKindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewValidationFailure(format string, args ...any) *AppError {
	return &AppError{Kind: ErrorKindValidationFailure, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a wrapped AppError or BlockerError, "" otherwise.
func KindOf(err error) ErrorKind {
	var be *BlockerError
	if errors.As(err, &be) {
		return ErrorKindConflict
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsNotFound(err error) bool          { return KindOf(err) == ErrorKindNotFound }
func IsInvalidState(err error) bool      { return KindOf(err) == ErrorKindInvalidState }
func IsConflict(err error) bool          { return KindOf(err) == ErrorKindConflict }
func IsValidationFailure(err error) bool { return KindOf(err) == ErrorKindValidationFailure }

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindInvalidState:
		return http.StatusBadRequest
	case ErrorKindConflict:
		return http.StatusConflict
	case ErrorKindValidationFailure:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

type BlockerKind string

const (
	BlockerKindLineSkuNotActive        BlockerKind = "LINE_SKU_NOT_ACTIVE"
	BlockerKindDiscrepancySkuNotActive BlockerKind = "DISCREPANCY_SKU_NOT_ACTIVE"
	BlockerKindUnresolvedDiscrepancy   BlockerKind = "UNRESOLVED_DISCREPANCY"
)

type Blocker struct {
	Kind          BlockerKind `json:"kind"`
	ReceiptLineId int         `json:"receipt_line_id,omitempty"`
	DiscrepancyId int         `json:"discrepancy_id,omitempty"`
	SkuId         int         `json:"sku_id,omitempty"`
	SkuCode       string      `json:"sku_code,omitempty"`
	Detail        string      `json:"detail"`
}

// BlockerError lists every outstanding issue that stops a workflow transition.
type BlockerError struct {
	Operation string    `json:"operation"`
	Blockers  []Blocker `json:"blockers"`
}

func (e *BlockerError) Error() string {
	parts := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		parts = append(parts, b.Detail)
	}
	return fmt.Sprintf("%s blocked: %s", e.Operation, strings.Join(parts, "; "))
}
