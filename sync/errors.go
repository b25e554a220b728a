// ABOUTME: Error taxonomy for credential handling and remote calendar calls
// ABOUTME: Classifies Google API and OAuth errors into sentinels the engine acts on
package sync

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrUnauthenticated means there is no usable credential. Aborts a pass.
	ErrUnauthenticated = errors.New("not connected to google calendar")
	// ErrReauthorizationRequired means the refresh token is gone or rejected. Aborts a pass.
	ErrReauthorizationRequired = errors.New("google authorization expired, sign in again")
	// ErrInvalidGrant means an authorization code was rejected or reused.
	ErrInvalidGrant = errors.New("authorization code rejected")
	// ErrRemoteConflict means a conditional write hit a stale etag.
	ErrRemoteConflict = errors.New("remote event changed since last sync")
	// ErrRemoteNotFound means the remote item no longer exists.
	ErrRemoteNotFound = errors.New("remote event not found")
	// ErrInvalidSyncToken means the provider no longer accepts the stored sync token.
	ErrInvalidSyncToken = errors.New("sync token expired")
	// ErrSyncInProgress is returned when a pass is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrClientNotConfigured means no OAuth client id/secret is configured.
	ErrClientNotConfigured = errors.New("google OAuth client not configured, set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET")
)

// IsFatal reports whether err must abort a whole sync pass.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrReauthorizationRequired) ||
		errors.Is(err, ErrClientNotConfigured)
}

// classifyError maps a Google API failure onto the sentinel taxonomy. listing
// selects the meaning of 410: an expired sync token on list, a deleted item
// everywhere else. Unrecognized errors are returned unchanged and treated as
// transient by the engine.
func classifyError(err error, listing bool) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		case http.StatusGone:
			if listing {
				return fmt.Errorf("%w: %w", ErrInvalidSyncToken, err)
			}
			return fmt.Errorf("%w: %w", ErrRemoteNotFound, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrRemoteNotFound, err)
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %w", ErrRemoteConflict, err)
		}
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %w", ErrReauthorizationRequired, err)
	}

	return err
}
