package data

import (
	"fmt"
	"strings"
)

// Layer is the equipment slot an item occupies on a character.
type Layer uint8

const (
	LayerNone Layer = iota
	LayerHand1
	LayerHand2
	LayerShoes
	LayerPants
	LayerShirt
	LayerHelm
	LayerGloves
	LayerRing
	LayerNeck
	LayerHair
	LayerWaist
	LayerChest
	LayerBracelet
	LayerBeard
	LayerCoat
	LayerEarrings
	LayerArms
	LayerCloak
	LayerPack
	LayerRobe
	LayerSkirt
	LayerLegs
	LayerMount
	LayerBank

	layerCount
)

var layerNames = [layerCount]string{
	"None", "Hand1", "Hand2", "Shoes", "Pants", "Shirt", "Helm", "Gloves", "Ring", "Neck",
	"Hair", "Waist", "Chest", "Bracelet", "Beard", "Coat", "Earrings", "Arms", "Cloak",
	"Pack", "Robe", "Skirt", "Legs", "Mount", "Bank",
}

func (l Layer) String() string {
	if l < layerCount {
		return layerNames[l]
	}
	return fmt.Sprintf("Layer(%d)", uint8(l))
}

// Wearable reports whether items can be equipped on l.
func (l Layer) Wearable() bool {
	return l > LayerNone && l < layerCount
}

// ParseLayer accepts a layer name (case-insensitive) or its number.
func ParseLayer(s string) (Layer, error) {
	s = strings.TrimSpace(s)
	for i, name := range layerNames {
		if strings.EqualFold(s, name) {
			return Layer(i), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n >= 0 && n < int(layerCount) {
		return Layer(n), nil
	}
	return LayerNone, fmt.Errorf("unknown layer %q", s)
}
