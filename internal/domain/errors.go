package domain

import "errors"

var (
	ErrAuth           = errors.New("authentication failed")
	ErrNetwork        = errors.New("network failure")
	ErrNoAccount      = errors.New("no account")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrStore          = errors.New("local store failure")
)

// UserMessage reduces err to the short text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "Login expired or credentials are invalid, please sign in again"
	case errors.Is(err, ErrSyncInProgress):
		return "Sync is already running"
	case errors.Is(err, ErrNoAccount):
		return "No account is configured"
	case errors.Is(err, ErrNetwork):
		return "Server is unreachable, will retry on next sync"
	case errors.Is(err, ErrStore):
		return "Failed to save data locally"
	default:
		return err.Error()
	}
}
