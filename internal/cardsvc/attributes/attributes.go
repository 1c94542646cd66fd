// Package attributes turns oracle random words into card attributes.
package attributes

import (
	"errors"

	"github.com/avvvet/card-services/internal/cardsvc/models"
)

var ErrNoWords = errors.New("at least one random word is required")

// Deriver is a pure, versioned mapping from random words to attributes.
type Deriver interface {
	Version() string
	Derive(words []uint64) (*models.Attributes, error)
}

// rarity thresholds out of 10000 for V1
var rarityTable = []struct {
	below  uint64
	rarity models.Rarity
}{
	{below: 6000, rarity: models.RarityCommon},
	{below: 8500, rarity: models.RarityUncommon},
	{below: 9600, rarity: models.RarityRare},
	{below: 9950, rarity: models.RarityEpic},
	{below: 10000, rarity: models.RarityLegendary},
}

var elements = []string{"fire", "water", "earth", "air", "light", "shadow"}

var rarityBonus = map[models.Rarity]int{
	models.RarityCommon:    0,
	models.RarityUncommon:  10,
	models.RarityRare:      25,
	models.RarityEpic:      45,
	models.RarityLegendary: 70,
}

// V1 expands the first word with splitmix64 so a single word is enough for every stat.
type V1 struct{}

func (V1) Version() string { return "v1" }

func (v V1) Derive(words []uint64) (*models.Attributes, error) {
	if len(words) == 0 {
		return nil, ErrNoWords
	}

	seed := words[0]
	for _, w := range words[1:] {
		seed ^= splitmix64(w)
	}

	r := stream{state: seed}

	roll := r.next() % 10000
	rarity := models.RarityCommon
	for _, row := range rarityTable {
		if roll < row.below {
			rarity = row.rarity
			break
		}
	}

	bonus := rarityBonus[rarity]
	return &models.Attributes{
		Version: v.Version(),
		Rarity:  rarity,
		Element: elements[r.next()%uint64(len(elements))],
		Attack:  1 + int(r.next()%50) + bonus,
		Defense: 1 + int(r.next()%50) + bonus,
		Speed:   1 + int(r.next()%30) + bonus/2,
	}, nil
}

type stream struct {
	state uint64
}

func (s *stream) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	return splitmix64(s.state)
}

func splitmix64(x uint64) uint64 {
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
