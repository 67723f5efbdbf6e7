package responder

import (
	"math/rand"
	"sync"
)

// Rand is the source of randomness for response selection.
type Rand interface {
	// Intn returns a uniform value in [0, n).
	Intn(n int) int
}

// Float64Rand is a Rand that can also draw probabilities.
type Float64Rand interface {
	Rand
	Float64() float64
}

// NewRand returns a seeded, goroutine-safe Rand.
func NewRand(seed int64) Float64Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
