// Package feeds turns refreshed enrollment records into feed registry entries
// and merges them into the shared registry file.
package feeds

import (
	"strings"

	"github.com/goliatone/go-feed-refresh/core"
)

// Project maps every account on record to a FeedEntry carrying the record's
// current access token. An account whose name is missing from mapping fails
// the whole projection.
func Project(record core.EnrollmentRecord, mapping core.FeedNameMapping) ([]core.FeedEntry, error) {
	entries := make([]core.FeedEntry, 0, len(record.Accounts))
	for _, account := range record.Accounts {
		feedName, ok := mapping.Lookup(account.Name)
		if !ok {
			return nil, core.UnmappedAccountError(account.Name, account.ID)
		}
		entries = append(entries, core.FeedEntry{
			FeedName:    feedName,
			AccessToken: strings.TrimSpace(record.AccessToken),
			AccountID:   account.ID,
		})
	}
	return entries, nil
}
