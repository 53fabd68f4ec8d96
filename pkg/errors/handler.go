package errors

import (
	"context"
	stderrors "errors"

	"openevse-mqtt-bridge/pkg/logger"
)

// DiagnosticPublisher is the part of the publisher the handler needs
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// ErrorHandler logs errors by severity and mirrors them on the diagnostic sensor
type ErrorHandler struct {
	diagnosticPublisher DiagnosticPublisher
}

func NewErrorHandler(publisher DiagnosticPublisher) *ErrorHandler {
	return &ErrorHandler{diagnosticPublisher: publisher}
}

// classify finds the outermost typed error in err's chain
func classify(err error) (Classified, bool) {
	var c Classified
	if stderrors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// Handle logs err and publishes a diagnostic. Untyped errors are reported
// with CodeGeneric.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	c, ok := classify(err)
	if !ok {
		logger.LogError("Untyped Error: %v", err)
		h.publish(ctx, CodeGeneric, err.Error())
		return
	}

	b := c.base()
	logBySeverity(b.Severity, c.kind(), c.Error())
	h.publish(ctx, b.Code, c.summary())
}

func logBySeverity(severity ErrorSeverity, kind, message string) {
	if kind != "" {
		kind += " "
	}
	switch severity {
	case SeverityCritical:
		logger.LogError("🔴 CRITICAL %sError: %s", kind, message)
	case SeverityError:
		logger.LogError("%sError: %s", kind, message)
	case SeverityWarning:
		logger.LogWarn("%sWarning: %s", kind, message)
	default:
		logger.LogInfo("%sInfo: %s", kind, message)
	}
}

func (h *ErrorHandler) publish(ctx context.Context, code int, message string) {
	if h.diagnosticPublisher == nil {
		return
	}
	if err := h.diagnosticPublisher.PublishDiagnostic(ctx, code, message); err != nil {
		logger.LogDebug("Failed to publish error diagnostic: %v", err)
	}
}

// IsRecoverable reports whether the bridge can keep running after err.
// Only critical errors are fatal; unknown errors are assumed transient.
func IsRecoverable(err error) bool {
	if c, ok := classify(err); ok {
		return c.base().Severity != SeverityCritical
	}
	return true
}

// GetDiagnosticCode extracts the diagnostic code from an error
func GetDiagnosticCode(err error) int {
	if err == nil {
		return 0
	}
	if c, ok := classify(err); ok {
		return c.base().Code
	}
	return CodeGeneric
}
