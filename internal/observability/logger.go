package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger backs the one-shot commands (collect, sources, runs).
	CLILogger *logging.Logger

	// ServerLogger backs `sourcetap serve`; it writes JSON lines to stderr.
	ServerLogger *logging.Logger
)

// EngineLogger returns the logger request engines should use: the server
// logger when serving, otherwise the CLI logger. It may be nil.
func EngineLogger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// InitCLILogger installs CLILogger. verbose lowers the level to DEBUG so
// per-request engine logs (retries, throttling, cache hits) become visible.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatalBeforeLogger(foundry.ExitConfigInvalid, "initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger installs ServerLogger at logLevel. A non-empty namespace
// is attached to every entry.
func InitServerLogger(serviceName string, logLevel string, namespace ...string) {
	ns := ""
	if len(namespace) > 0 {
		ns = namespace[0]
	}

	logger, err := logging.New(serverLoggerConfig(serviceName, logLevel, ns))
	if err != nil {
		fatalBeforeLogger(foundry.ExitConfigInvalid, "initialize server logger", err)
	}
	ServerLogger = logger
}

func serverLoggerConfig(serviceName, logLevel, namespace string) *logging.LoggerConfig {
	static := map[string]any{}
	if namespace != "" {
		static["namespace"] = namespace
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  "json",
				Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// parseLogLevel maps the config spelling of a level onto gofulmen's
// severity names. Unknown values fall back to INFO.
func parseLogLevel(level string) string {
	switch l := strings.ToUpper(strings.TrimSpace(level)); l {
	case "TRACE", "DEBUG", "INFO", "ERROR":
		return l
	case "WARN", "WARNING":
		return "WARN"
	default:
		return "INFO"
	}
}

// fatalBeforeLogger reports a startup failure on stderr and exits with code.
func fatalBeforeLogger(code foundry.ExitCode, action string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", action, err)
	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(code))
}
