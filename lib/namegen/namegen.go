// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package namegen allocates human-friendly agent names. The
// coordinator consults it when a create request does not specify a
// name. Names are adjective-noun pairs ("quiet-heron"); on collision
// with an existing agent a short random suffix is appended.
package namegen

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

var adjectives = []string{
	"amber", "bold", "calm", "deft", "eager", "fleet", "gentle",
	"hardy", "keen", "lucid", "mellow", "nimble", "patient", "quiet",
	"rapid", "steady", "tidy", "vivid", "wary", "zesty",
}

var nouns = []string{
	"aspen", "badger", "cedar", "dune", "ember", "fjord", "glade",
	"heron", "islet", "juniper", "kestrel", "lagoon", "maple", "newt",
	"osprey", "pike", "quartz", "reef", "sparrow", "tern",
}

// Generator produces unique agent names. Safe for use from a single
// coordinator; it keeps no state beyond its random source.
type Generator struct {
	random *rand.Rand
}

// New creates a Generator seeded from the global random source.
func New() *Generator {
	return &Generator{random: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// maxAttempts bounds plain adjective-noun draws before falling back to
// a suffixed name, which cannot collide in practice.
const maxAttempts = 16

// Generate returns a name for which taken reports false.
func (g *Generator) Generate(taken func(string) bool) string {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		name := fmt.Sprintf("%s-%s",
			adjectives[g.random.IntN(len(adjectives))],
			nouns[g.random.IntN(len(nouns))],
		)
		if !taken(name) {
			return name
		}
	}

	// The plain namespace is crowded; disambiguate with a uuid
	// fragment.
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s-%s",
		adjectives[g.random.IntN(len(adjectives))],
		nouns[g.random.IntN(len(nouns))],
		suffix,
	)
}
