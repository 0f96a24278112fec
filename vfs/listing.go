package vfs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/traceplay/replayd/domain"
)

// LoadListing reads the initial workspace listing (JSON array of
// {path, kind} entries) used to seed the model. An empty path yields an
// empty listing so a replay can start against a blank workspace.
func LoadListing(path string) ([]domain.ListingEntry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace listing: %w", err)
	}
	var listing []domain.ListingEntry
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("workspace listing must be a JSON array of {path, kind}: %w", err)
	}
	return listing, nil
}
