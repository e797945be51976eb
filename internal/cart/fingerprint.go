package cart

import (
	"fmt"
	"sort"
	"strings"

	"storefront-session/internal/models"
)

// Fingerprint derives the composite key identifying a line's
// configuration. Addon pairs are sorted by id so that the same addon
// set always produces the same key regardless of selection order;
// differing packages or addon sets never collide into one line.
func Fingerprint(serviceID, packageVariant string, addons []models.Addon) string {
	parts := make([]string, 0, len(addons)+2)
	parts = append(parts, serviceID, packageVariant)

	sorted := make([]models.Addon, len(addons))
	copy(sorted, addons)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, a := range sorted {
		parts = append(parts, fmt.Sprintf("%s:%d", a.ID, a.Price))
	}

	return strings.Join(parts, "|")
}
