// Package draw реализует равновероятный выбор победителей без повторений.
package draw

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/mmeshcher/lottery-system/internal/model"
)

// Sampler выбирает k записей из n так, что любое подмножество размера k равновероятно.
// Безопасен для конкурентного использования.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler создаёт Sampler поверх источника src. При src == nil используется
// общий генератор пакета math/rand/v2.
func NewSampler(src rand.Source) *Sampler {
	if src == nil {
		return &Sampler{}
	}
	return &Sampler{rng: rand.New(src)}
}

// Sample возвращает min(k, len(entries)) различных записей. Исходный срез не изменяется.
// Используется частичная перетасовка Фишера-Йетса: после i шагов первые i элементов
// образуют равновероятную выборку без возвращения.
func (s *Sampler) Sample(entries []model.Entry, k int) []model.Entry {
	n := len(entries)
	if k <= 0 || n == 0 {
		return []model.Entry{}
	}
	if k > n {
		k = n
	}

	pool := slices.Clone(entries)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < k; i++ {
		j := i + s.intN(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:k:k]
}

func (s *Sampler) intN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	return s.rng.IntN(n)
}
