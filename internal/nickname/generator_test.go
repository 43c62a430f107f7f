package nickname

import (
	"math/rand/v2"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var generatedShape = regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+[1-9][0-9]$`)

func TestGenerateProducesValidHandles(t *testing.T) {
	generator := New(Config{Rand: rand.New(rand.NewPCG(1, 2))})

	for i := 0; i < 500; i++ {
		candidate := generator.Generate()
		require.NoError(t, Validate(candidate), "candidate %q", candidate)
		require.Regexp(t, generatedShape, candidate)
	}
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	first := New(Config{Rand: rand.New(rand.NewPCG(7, 11))})
	second := New(Config{Rand: rand.New(rand.NewPCG(7, 11))})

	for i := 0; i < 20; i++ {
		require.Equal(t, first.Generate(), second.Generate())
	}
}

func TestGenerateUsesCustomWords(t *testing.T) {
	generator := New(Config{
		Rand:       rand.New(rand.NewPCG(3, 4)),
		Adjectives: []string{"Calm"},
		Animals:    []string{"Owl", "not valid!"},
	})

	candidate := generator.Generate()
	require.Regexp(t, `^CalmOwl[1-9][0-9]$`, candidate)
}

func TestGenerateFallsBackWhenEveryComboIsBlocked(t *testing.T) {
	generator := New(Config{
		Rand:       rand.New(rand.NewPCG(5, 6)),
		Adjectives: []string{"Staff"},
		Animals:    []string{"Owl"},
	})

	candidate := generator.Generate()
	require.Regexp(t, `^Friend[1-9][0-9]$`, candidate)
	require.NoError(t, Validate(candidate))
}

func TestGenerateIsSafeForConcurrentUse(t *testing.T) {
	generator := New(Config{})
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = generator.Generate()
			}
		}()
	}
	wg.Wait()
}
