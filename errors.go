package rdclient

import "strings"

// LoginError describes one entry of the fixed error-string table in §4.8:
// a UI dialog shape derived from a peer-reported error string.
type LoginError struct {
	MsgType  string
	Title    string
	Text     string
	Link     string
	TryAgain bool
}

// loginErrorMap maps a peer LoginResponse.Error string to the UI dialog it
// should produce. Unknown errors fall back to a generic "Login Error".
var loginErrorMap = map[string]LoginError{
	"Wayland": {
		MsgType: "error", Title: "Wayland Error",
		Text: "Remote desktop is running under Wayland, which this client cannot control.",
	},
	"Session not ready": {
		MsgType: "error", Title: "Session Not Ready",
		Text: "The remote session is still starting up. Please try again shortly.",
		TryAgain: true,
	},
	"Xsession failed": {
		MsgType: "error", Title: "X Session Failed",
		Text: "The remote X session failed to start.",
	},
	"Another user logged in": {
		MsgType: "error", Title: "Another User Logged In",
		Text: "Another user is currently logged into the remote desktop.",
	},
	"Xorg not found": {
		MsgType: "error", Title: "Xorg Not Found",
		Text: "The remote desktop has no X server installed.",
	},
	"No desktop": {
		MsgType: "error", Title: "No Desktop Found",
		Text: "No remote desktop session is available.",
	},
	"Empty Password": {
		MsgType: "re-input-password", Title: "Empty Password",
		Text: "Please enter a password.", TryAgain: true,
	},
	"Wrong Password": {
		MsgType: "re-input-password", Title: "Wrong Password",
		Text: "Do you want to enter again?", TryAgain: true,
	},
	"No Password Access": {
		MsgType: "error", Title: "No Password Access",
		Text: "This remote desktop does not accept password logins.",
	},
	"Wrong 2FA Code": {
		MsgType: "re-input-2fa", Title: "Wrong 2FA Code",
		Text: "Do you want to enter again?", TryAgain: true,
	},
	"2FA Required": {
		MsgType: "input-2fa", Title: "2FA Required",
		Text: "Please enter your two-factor authentication code.", TryAgain: true,
	},
}

// ClassifyLoginError maps a peer-reported error string to its UI dialog,
// per §4.8. Unknown strings fall back to a generic "Login Error".
func ClassifyLoginError(errString string) LoginError {
	if e, ok := loginErrorMap[errString]; ok {
		return e
	}
	return LoginError{
		MsgType: "error",
		Title:   "Login Error",
		Text:    errString,
	}
}

// PasswordCleared reports whether e should clear the in-memory password and
// re-prompt, per the Auth failure taxonomy in §7.
func (e LoginError) PasswordCleared() bool {
	return e.Title == "Empty Password" || e.Title == "Wrong Password"
}

// retryExcludedSubstrings are the substrings that disqualify a
// "Connection Error" from auto-retry (case-insensitive), per §4.8's
// check_if_retry.
var retryExcludedSubstrings = []string{
	"offline", "exist", "handshake", "failed", "resolve", "mismatch", "manually", "not allowed",
}

// CheckIfRetry implements §4.8's check_if_retry: only a "Connection Error"
// is ever eligible, and then only if its text either names a TCP-reset code
// with retryForRelay set, or contains none of the excluded substrings.
func CheckIfRetry(msgType, title, text string, retryForRelay bool) bool {
	if msgType != "error" || title != "Connection Error" {
		return false
	}
	lower := strings.ToLower(text)
	if retryForRelay && (strings.Contains(text, "10054") || strings.Contains(text, "104")) {
		return true
	}
	for _, s := range retryExcludedSubstrings {
		if strings.Contains(lower, s) {
			return false
		}
	}
	return true
}
