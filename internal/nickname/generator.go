package nickname

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	suffixMin = 10
	suffixMax = 99
	maxDraws  = 32
	fallback  = "Friend"
)

// Config customises the generator. Zero values fall back to the built-in word lists and a time-seeded source.
type Config struct {
	Rand       *rand.Rand
	Adjectives []string
	Animals    []string
}

// Generator produces anonymous handles such as "CalmOwl47". It is safe for concurrent use.
type Generator struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	adjectives []string
	animals    []string
}

// New constructs a Generator.
func New(cfg Config) *Generator {
	rnd := cfg.Rand
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	adjectives := usableWords(cfg.Adjectives)
	if len(adjectives) == 0 {
		adjectives = defaultAdjectives
	}
	animals := usableWords(cfg.Animals)
	if len(animals) == 0 {
		animals = defaultAnimals
	}
	return &Generator{
		rnd:        rnd,
		adjectives: adjectives,
		animals:    animals,
	}
}

// Generate returns a candidate nickname that passes Validate. Uniqueness is the caller's concern.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for draw := 0; draw < maxDraws; draw++ {
		candidate := fmt.Sprintf("%s%s%02d",
			g.adjectives[g.rnd.IntN(len(g.adjectives))],
			g.animals[g.rnd.IntN(len(g.animals))],
			g.suffix(),
		)
		if Validate(candidate) == nil {
			return candidate
		}
	}
	return fmt.Sprintf("%s%02d", fallback, g.suffix())
}

func (g *Generator) suffix() int {
	return suffixMin + g.rnd.IntN(suffixMax-suffixMin+1)
}

func usableWords(words []string) []string {
	usable := make([]string, 0, len(words))
	for _, word := range words {
		if word == "" || !nicknamePattern.MatchString(word) {
			continue
		}
		usable = append(usable, word)
	}
	return usable
}
