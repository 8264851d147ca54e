package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/observability"
)

var defaultExit = os.Exit

// osExit is swapped in tests.
var osExit = defaultExit

// Exit reports a command failure returned from Execute and terminates with
// the exit code matching err.
func Exit(err error) {
	exitWith(exitCodeFor(err), "Command execution failed", err)
}

// exitCodeFor maps a command error onto a foundry exit code: missing files,
// invalid config or input, unreachable stores, otherwise a generic failure.
func exitCodeFor(err error) foundry.ExitCode {
	if stderrors.Is(err, fs.ErrNotExist) {
		return foundry.ExitFileNotFound
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		switch envelope.Code {
		case "INVALID_INPUT":
			return foundry.ExitConfigInvalid
		case "DATABASE_ERROR", "STORE_UNAVAILABLE", "COLLECTION_FAILED":
			return foundry.ExitExternalServiceUnavailable
		}
	}
	return foundry.ExitFailure
}

// exitWith logs msg through the CLI logger, or stderr before the logger
// exists, and exits with code.
func exitWith(code foundry.ExitCode, msg string, err error) {
	info, known := foundry.GetExitCodeInfo(code)
	status := int(code)
	if known {
		status = info.Code
	}

	logger := observability.CLILogger
	if logger == nil {
		writeFatal(os.Stderr, msg, err)
		if known {
			fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		}
		osExit(status)
		return
	}

	fields := []zap.Field{zap.Int("exit_code", status)}
	if known {
		fields = append(fields, zap.String("exit_name", info.Name), zap.String("exit_category", info.Category))
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID))
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Error(msg, fields...)
	osExit(status)
}

func writeFatal(w io.Writer, msg string, err error) {
	var envelope *errors.ErrorEnvelope
	switch {
	case err == nil:
		fmt.Fprintf(w, "FATAL: %s\n", msg)
	case stderrors.As(err, &envelope):
		fmt.Fprintf(w, "FATAL: %s [%s]: %s (correlation: %s)\n", msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		if cause, ok := envelope.Context["wrapped_error"]; ok {
			fmt.Fprintf(w, "Underlying error: %v\n", cause)
		}
	default:
		fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	}
}
