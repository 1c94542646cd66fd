package models

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Attributes are derived once from the oracle's random words and never change afterwards.
type Attributes struct {
	Version string `json:"version"` // deriver version that produced the attributes
	Rarity  Rarity `json:"rarity"`
	Element string `json:"element"`
	Attack  int    `json:"attack"`
	Defense int    `json:"defense"`
	Speed   int    `json:"speed"`
}
