// Package cache memoizes generated report artifacts and decides when a
// previously computed artifact is stale.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/justoai/relato/internal/domain"
)

// Key derives the stable cache fingerprint for a report request. Process
// IDs are sorted before hashing so the order a tenant selected cases in
// never produces a different key for the same logical request.
func Key(workspaceID uuid.UUID, reportType domain.ReportType, audience domain.AudienceType, processIDs []string) string {
	ids := make([]string, len(processIDs))
	copy(ids, processIDs)
	sort.Strings(ids)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", workspaceID, reportType, audience, strings.Join(ids, ","))
	return hex.EncodeToString(h.Sum(nil))
}
