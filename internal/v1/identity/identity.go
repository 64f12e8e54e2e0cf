// Package identity derives a room's visual identity from its code. The same
// code always yields the same identity, so it never needs to be persisted
// anywhere except alongside the room state that references it.
package identity

import (
	"fmt"
	"hash/fnv"
)

// Identity is the deterministic visual identity of a room.
type Identity struct {
	HypeName     string  `json:"hypeName"`
	Color        string  `json:"color"`
	Pattern      string  `json:"pattern"`
	BaseRotation float64 `json:"baseRotation"`
}

var adjectives = []string{
	"Blazing", "Thundering", "Electric", "Cosmic", "Rowdy",
	"Golden", "Midnight", "Turbo", "Lucky", "Savage",
	"Neon", "Wild", "Mighty", "Roaring", "Shimmering", "Furious",
}

var nouns = []string{
	"Dice Pit", "Roll Den", "Tumble Hall", "Shaker Lounge", "Score Shack",
	"Rumble Room", "Bone Yard", "Streak House", "Combo Corner", "Rally Arena",
	"Fortune Floor", "Jackpot Junction",
}

var palette = []string{
	"#FF6B6B", "#4ECDC4", "#FFD93D", "#6C5CE7", "#00B894",
	"#E17055", "#0984E3", "#FD79A8", "#A29BFE", "#55EFC4",
}

var patterns = []string{
	"dots", "stripes", "waves", "grid", "confetti", "zigzag",
}

// Generate computes the identity for a room code. Pure and deterministic.
func Generate(code string) Identity {
	h := fnv.New64a()
	h.Write([]byte(code))
	seed := h.Sum64()

	adj := adjectives[seed%uint64(len(adjectives))]
	noun := nouns[(seed/7)%uint64(len(nouns))]

	// Rotation spans [-0.7, 0.7] in steps derived from the hash.
	rotation := (float64((seed/13)%1401)/1000.0 - 0.7)

	return Identity{
		HypeName:     fmt.Sprintf("The %s %s", adj, noun),
		Color:        palette[(seed/3)%uint64(len(palette))],
		Pattern:      patterns[(seed/5)%uint64(len(patterns))],
		BaseRotation: rotation,
	}
}
