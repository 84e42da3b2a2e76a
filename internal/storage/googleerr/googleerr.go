// Package googleerr classifies errors from Google API clients (Drive and
// Cloud Storage) into storage error kinds.
package googleerr

import (
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/fruitsalade/outputstore/internal/storage"
)

// rateLimitReasons are the 403 reasons that mean "slow down" rather than
// "not allowed".
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":        true,
	"userRateLimitExceeded":    true,
	"sharingRateLimitExceeded": true,
	"quotaExceeded":            true,
	"dailyLimitExceeded":       true,
}

// Classify maps err onto a storage error. A failed token exchange, 401, and
// 403 not caused by rate limiting mean the credentials or scope were
// rejected; everything else is a transmission failure.
func Classify(op, path string, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return storage.NewError(storage.AuthenticationFailed, op, path, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return storage.NewError(storage.AuthenticationFailed, op, path, err)
		case http.StatusForbidden:
			if !RateLimited(gerr) {
				return storage.NewError(storage.AuthenticationFailed, op, path, err)
			}
		}
	}
	return storage.NewError(storage.TransmissionFailed, op, path, err)
}

// RateLimited reports whether gerr carries a rate-limit or quota reason.
func RateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return true
		}
	}
	return false
}
