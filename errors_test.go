package rdclient

import "testing"

func TestClassifyLoginErrorKnownEntries(t *testing.T) {
	e := ClassifyLoginError("Wrong Password")
	if e.MsgType != "re-input-password" || !e.TryAgain {
		t.Errorf("unexpected classification: %+v", e)
	}
	if !e.PasswordCleared() {
		t.Error("Wrong Password should clear the stored password")
	}
}

func TestClassifyLoginErrorUnknownFallsBackToGeneric(t *testing.T) {
	e := ClassifyLoginError("some unexpected backend error")
	if e.Title != "Login Error" || e.Text != "some unexpected backend error" {
		t.Errorf("unexpected fallback classification: %+v", e)
	}
	if e.PasswordCleared() {
		t.Error("generic errors should not clear the password")
	}
}

func TestCheckIfRetryOnlyAppliesToConnectionError(t *testing.T) {
	if CheckIfRetry("error", "Wayland Error", "anything", false) {
		t.Error("only msgtype=error/title=Connection Error is ever eligible")
	}
	if CheckIfRetry("re-input-password", "Connection Error", "anything", false) {
		t.Error("wrong msgtype should not be eligible")
	}
}

func TestCheckIfRetryExcludedSubstringBlocks(t *testing.T) {
	if CheckIfRetry("error", "Connection Error", "handshake failed unexpectedly", false) {
		t.Error("an excluded substring should block retry")
	}
}

func TestCheckIfRetryDefaultsTrueWithoutExclusion(t *testing.T) {
	if !CheckIfRetry("error", "Connection Error", "connection reset by peer", false) {
		t.Error("a non-excluded Connection Error should be retryable by default")
	}
}

func TestCheckIfRetryForRelayOverridesOnResetCodes(t *testing.T) {
	if !CheckIfRetry("error", "Connection Error", "failed: errno 10054", true) {
		t.Error("a TCP reset code with retryForRelay should retry even though 'failed' is excluded")
	}
	if !CheckIfRetry("error", "Connection Error", "socket error 104", true) {
		t.Error("errno 104 with retryForRelay should retry")
	}
}

func TestCheckIfRetryForRelayStillExcludesOtherReasons(t *testing.T) {
	if CheckIfRetry("error", "Connection Error", "manually disconnected", true) {
		t.Error("retryForRelay only overrides the reset-code case, not every exclusion")
	}
}
