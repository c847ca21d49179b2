package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Protocol Errors (S100-S199)
	// ============================================

	"S101": {
		Category: CategoryProtocol,
		Message:  "Invalid message length",
		Detail:   "A framed message must start with a decimal length followed by the message delimiter.",
	},
	"S102": {
		Category: CategoryProtocol,
		Message:  "Fragment overflow",
		Detail:   "More bytes were received than the message header declared. The framing is out of sync and the partial message was discarded.",
	},
	"S103": {
		Category: CategoryProtocol,
		Message:  "Malformed push envelope",
		Detail:   "Push messages must be wrapped as for(;;);[{...}].",
	},
	"S104": {
		Category: CategoryProtocol,
		Message:  "Malformed message",
		Detail:   "The message body could not be decoded.",
	},
	"S105": {
		Category: CategoryProtocol,
		Message:  "Invalid RPC arguments",
		Detail:   "The argument list does not match the registered method.",
	},

	// ============================================
	// Usage Errors (S200-S299)
	// ============================================

	"S201": {
		Category: CategoryUsage,
		Message:  "RPC proxy not initialized",
		Detail:   "Init must bind the proxy to a connector before any method is called.",
	},
	"S202": {
		Category: CategoryUsage,
		Message:  "Unknown RPC method",
		Detail:   "The method is not declared on the RPC interface.",
	},
	"S203": {
		Category: CategoryUsage,
		Message:  "Bundle not recognized",
		Detail:   "Bundle names are fixed when the loader is built.",
	},
	"S204": {
		Category: CategoryUsage,
		Message:  "Push connection not connected",
		Detail:   "Disconnect and send require an attached transport resource.",
	},
	"S205": {
		Category: CategoryUsage,
		Message:  "Push connection invariant violated",
		Detail:   "A push connection must hold a resource exactly when it is connected.",
	},
	"S206": {
		Category: CategoryUsage,
		Message:  "Invalid push resource",
		Detail:   "Connect requires a non-nil resource different from the attached one.",
	},
	"S207": {
		Category: CategoryUsage,
		Message:  "Connector already registered",
		Detail:   "A connector can be registered only once while it is attached.",
	},
	"S208": {
		Category: CategoryUsage,
		Message:  "Duplicate registration",
		Detail:   "An RPC interface, method or bundle identifier was registered twice.",
	},

	// ============================================
	// Transport Errors (S300-S399)
	// ============================================

	"S301": {
		Category: CategoryTransport,
		Message:  "Push failed",
		Detail:   "The push message could not be composed or handed to the transport.",
	},
	"S302": {
		Category: CategoryTransport,
		Message:  "Broadcast failed",
		Detail:   "The transport resource rejected the message.",
	},
	"S303": {
		Category: CategoryTransport,
		Message:  "Connection closed",
		Detail:   "The transport resource is closed.",
	},

	// ============================================
	// Bundle Errors (S400-S499)
	// ============================================

	"S401": {
		Category: CategoryBundle,
		Message:  "Bundle load failed",
		Detail:   "The bundle source returned an error. The bundle stays in the error state.",
	},
	"S402": {
		Category: CategoryBundle,
		Message:  "Bundle not found",
		Detail:   "The bundle source has no payload for the requested name.",
	},
	"S403": {
		Category: CategoryBundle,
		Message:  "Invalid bundle payload",
		Detail:   "Bundle payloads must be JSON objects with a types map.",
	},

	// ============================================
	// Config Errors (S500-S599)
	// ============================================

	"S501": {
		Category: CategoryConfig,
		Message:  "Config file not readable",
		Detail:   "The configuration file could not be read or parsed.",
	},
	"S502": {
		Category: CategoryConfig,
		Message:  "Invalid config",
		Detail:   "A configuration value is out of range or inconsistent.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
