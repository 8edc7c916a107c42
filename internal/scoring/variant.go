package scoring

import (
	"hash/fnv"

	"github.com/indijan/arbiter/internal/domain"
)

// AssignVariant maps an opportunity id onto an A/B arm: FNV-1a 32-bit over
// the id bytes, even hashes to A and odd hashes to B.
func AssignVariant(opportunityID string) domain.Variant {
	h := fnv.New32a()
	_, _ = h.Write([]byte(opportunityID))
	if h.Sum32()%2 == 0 {
		return domain.VariantA
	}
	return domain.VariantB
}
