package behavior

import "github.com/nextlevelbuilder/friendbot/internal/store"

// Trust tier thresholds on PersonRecord.RelationshipScore, which ranges
// over [0,1]. Below newContactMax is a brand-new contact; at or above
// closeFriendMin the relationship is well established. Everything between
// is "getting to know you".
const (
	newContactMax  = 0.25
	closeFriendMin = 0.65
)

// TrustTier derives a person's trust tier from their relationship score,
// the sole source of truth, with an optional manual override. An override
// that isn't one of the three known tiers is ignored rather than rejected,
// since a stale or mistyped override should degrade to the computed tier
// instead of breaking classification.
func TrustTier(score float64, override string) store.TrustTier {
	switch store.TrustTier(override) {
	case store.TrustNewContact, store.TrustGettingToKnow, store.TrustCloseFriend:
		return store.TrustTier(override)
	}

	switch {
	case score < newContactMax:
		return store.TrustNewContact
	case score < closeFriendMin:
		return store.TrustGettingToKnow
	default:
		return store.TrustCloseFriend
	}
}
