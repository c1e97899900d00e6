package storage

import (
	"errors"
	"time"

	"github.com/rhuss/verlauf/pkg/api"
)

// ValidateSessionID rejects ids no adapter can key on.
func ValidateSessionID(id string) error {
	if id == "" {
		return api.NewInvalidInputError("session_id", "session id is required")
	}
	return nil
}

// Fail classifies err for the caller. Errors that already carry an
// api.APIError (closed session, invalid input) pass through unchanged;
// anything else is an I/O failure and is wrapped as api.ErrStorageFailure.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return api.NewStorageError(op, err)
}

// Sequence assigns store sequence numbers to copies of items, continuing
// after tail. Missing ids and timestamps are filled in and timestamps are
// truncated to the microsecond precision every backend can hold. The
// caller's slice is not modified.
func Sequence(items []api.Item, tail int64) []api.Item {
	now := time.Now().UTC()
	out := api.CloneItems(items)
	for i := range out {
		out[i].Sequence = tail + int64(i) + 1
		if out[i].ID == "" {
			out[i].ID = api.NewItemID()
		}
		if out[i].CreatedAt.IsZero() {
			out[i].CreatedAt = now
		}
		out[i].CreatedAt = out[i].CreatedAt.UTC().Truncate(time.Microsecond)
	}
	return out
}
