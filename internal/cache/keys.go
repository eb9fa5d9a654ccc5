// Package cache presents domain-shaped caches over the in-memory store:
// consistent key templates, config-driven TTLs, and tag-based invalidation.
// Cache contents are never authoritative; the database is.
package cache

import (
	"fmt"
	"time"
)

// KeyPrefix versions the whole keyspace. Bump the version segment when the
// payload schema changes incompatibly.
const KeyPrefix = "lumen:v2"

// tagKeyPrefix namespaces the tag marker entries.
const tagKeyPrefix = KeyPrefix + ":cache:tag:"

// Kind names one logical cache. Only the engine constructs keys.
type Kind string

const (
	PlayerResources  Kind = "player_resources"
	PlayerModifiers  Kind = "player_modifiers"
	MaidenCollection Kind = "maiden_collection"
	DropCharges      Kind = "drop_charges"
	FusionRates      Kind = "fusion_rates"
	LeaderBonuses    Kind = "leader_bonuses"
	Leaderboard      Kind = "leaderboard"
	DailyQuest       Kind = "daily_quest"
)

// kindSpec couples a key template with its config TTL path and in-code
// fallback.
type kindSpec struct {
	template   string
	configPath string
	defaultTTL time.Duration
	argCount   int
}

// templates is the versioned registry. Hot per-player state runs short,
// global game data long, date-scoped state a day.
var templates = map[Kind]kindSpec{
	PlayerResources:  {KeyPrefix + ":player:%v:resources", "cache.ttls.player_resources", 5 * time.Minute, 1},
	PlayerModifiers:  {KeyPrefix + ":player:%v:modifiers", "cache.ttls.player_modifiers", 10 * time.Minute, 1},
	MaidenCollection: {KeyPrefix + ":player:%v:maidens", "cache.ttls.maiden_collection", 5 * time.Minute, 1},
	DropCharges:      {KeyPrefix + ":player:%v:drop_charges", "cache.ttls.drop_charges", 5 * time.Minute, 1},
	FusionRates:      {KeyPrefix + ":fusion:rates:%v", "cache.ttls.fusion_rates", time.Hour, 1},
	LeaderBonuses:    {KeyPrefix + ":leader:bonus:%v:%v", "cache.ttls.leader_bonuses", time.Hour, 2},
	Leaderboard:      {KeyPrefix + ":leaderboard:%v", "cache.ttls.leaderboard", time.Hour, 1},
	DailyQuest:       {KeyPrefix + ":daily:%v:%v", "cache.ttls.daily_quest", 24 * time.Hour, 2},
}

// buildKey renders the template for a kind. Wrong arity is a programming
// error surfaced as an error rather than a malformed key.
func buildKey(kind Kind, args ...any) (string, error) {
	spec, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("cache: unknown kind %q", kind)
	}
	if len(args) != spec.argCount {
		return "", fmt.Errorf("cache: kind %q wants %d key args, got %d", kind, spec.argCount, len(args))
	}
	return fmt.Sprintf(spec.template, args...), nil
}

// PlayerTag is the tag attached to all of one player's entries, so a single
// invalidation sweeps them after a mutation.
func PlayerTag(playerID int64) string {
	return fmt.Sprintf("player:%d", playerID)
}

// tagMarkerKey renders the marker entry recording that cacheKey carries tag.
func tagMarkerKey(tag, cacheKey string) string {
	return tagKeyPrefix + tag + ":" + cacheKey
}
