// Package keygen draws the human-shareable room codes.
package keygen

import (
	"context"
	"math/rand"
	"strings"

	"keyroom/internal/store"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces codes shaped AA-AAA-AA and redraws whenever the
// store reports the code already names an active room. The check is not
// atomic against concurrent generators; room creation is where
// uniqueness is authoritative, so a lost race here only costs a retry.
type Generator struct {
	store store.Store
}

func New(s store.Store) *Generator {
	return &Generator{store: s}
}

func (g *Generator) Generate(ctx context.Context) (string, error) {
	for {
		key := MakeKey()
		exists, err := g.store.RoomExists(ctx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
	}
}

// MakeKey draws one random code without consulting the store.
func MakeKey() string {
	var b strings.Builder
	b.Grow(9)
	for _, n := range [3]int{2, 3, 2} {
		if b.Len() > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < n; i++ {
			b.WriteByte(charset[rand.Intn(len(charset))])
		}
	}
	return b.String()
}
