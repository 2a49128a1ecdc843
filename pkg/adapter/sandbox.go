package adapter

import "fmt"

// Sandbox scenario names a channel's Sandbox field may hold, letting demo
// and test tenants exercise publish outcomes without talking to a real
// platform.
const (
	SandboxSimulateSuccess    = "simulate_success"
	SandboxSimulateRateLimit  = "simulate_rate_limit"
	SandboxSimulateAuthError  = "simulate_auth_error"
)

// SandboxError is returned when a sandbox scenario simulates a provider
// failure, carrying enough structure for providererror.Map to classify it
// the same way it would a real upstream error.
type SandboxError struct {
	Code    string
	Message string
}

func (e *SandboxError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// ApplySandbox runs a channel's configured sandbox scenario, returning
// (handled, result, err): handled is true if the scenario short-circuited
// the real publish call.
func ApplySandbox(scenario string, channelType string) (handled bool, result Result, err error) {
	switch scenario {
	case SandboxSimulateSuccess:
		return true, Result{ExternalPostID: "sandbox-" + channelType + "-0", Metadata: map[string]any{"sandbox": true}}, nil
	case SandboxSimulateRateLimit:
		return true, Result{}, &SandboxError{Code: "rate_limited", Message: "sandbox rate limit scenario"}
	case SandboxSimulateAuthError:
		return true, Result{}, &SandboxError{Code: "auth_invalid_grant", Message: "sandbox auth error scenario"}
	default:
		return false, Result{}, nil
	}
}
