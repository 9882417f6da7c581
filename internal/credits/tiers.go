package credits

import (
	"encoding/json"

	"github.com/dpyc/tollbooth/pkg/logger"
)

const defaultTierName = "default"
const defaultMultiplier int64 = 1

type tierEntry struct {
	CreditMultiplier int64 `json:"credit_multiplier"`
}

// resolveTier maps a user to (tier name, credit multiplier) from the two
// JSON-encoded config strings. Missing config, unknown users, and
// malformed JSON all degrade to ("default", 1); bad config must never
// block a purchase.
func resolveTier(userID, tierConfigJSON, userTiersJSON string, log *logger.Logger) (string, int64) {
	if tierConfigJSON == "" || userTiersJSON == "" {
		return defaultTierName, defaultMultiplier
	}

	var tierConfig map[string]tierEntry
	var userTiers map[string]string
	if err := json.Unmarshal([]byte(tierConfigJSON), &tierConfig); err != nil {
		log.Warn("invalid tier config JSON, using default multiplier", "error", err)
		return defaultTierName, defaultMultiplier
	}
	if err := json.Unmarshal([]byte(userTiersJSON), &userTiers); err != nil {
		log.Warn("invalid user tiers JSON, using default multiplier", "error", err)
		return defaultTierName, defaultMultiplier
	}

	tierName, ok := userTiers[userID]
	if !ok {
		tierName = defaultTierName
	}
	tier, ok := tierConfig[tierName]
	if !ok {
		tier = tierConfig[defaultTierName]
	}
	if tier.CreditMultiplier == 0 {
		return tierName, defaultMultiplier
	}
	return tierName, tier.CreditMultiplier
}
