package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"storefront/backend/internal/domain"
)

// Seed is the fixture format accepted by LoadSeedFile.
type Seed struct {
	Products     []SeedProduct              `yaml:"products"`
	Similarities []domain.ProductSimilarity `yaml:"similarities"`
}

// SeedProduct mirrors domain.Product but expresses age relative to load
// time so fixtures stay "recent" regardless of when they are loaded.
type SeedProduct struct {
	domain.Product `yaml:",inline"`
	AgeDays        int  `yaml:"age_days"`
	Inactive       bool `yaml:"inactive"`
}

func LoadSeedFile(path string, now time.Time) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i := range seed.Products {
		p := &seed.Products[i]
		if p.ID == "" || p.CategoryID == "" {
			return Seed{}, fmt.Errorf("seed product %d: id and category_id are required", i)
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now.Add(-time.Duration(p.AgeDays) * 24 * time.Hour)
		}
		p.Active = !p.Inactive
	}
	return seed, nil
}

func (s *Store) ApplySeed(seed Seed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range seed.Products {
		s.putProductLocked(p.Product)
	}
	for _, edge := range seed.Similarities {
		if edge.ProductIDA == "" || edge.ProductIDB == "" || edge.ProductIDA == edge.ProductIDB || edge.SimilarityType == "" {
			continue
		}
		s.upsertEdgeLocked(edge)
	}
}

func DefaultSeed(now time.Time) Seed {
	day := 24 * time.Hour
	product := func(id, name, category, brand, material string, price int64, featured, vip bool, age int) SeedProduct {
		return SeedProduct{
			Product: domain.Product{
				ID:           id,
				Name:         name,
				CategoryID:   category,
				BrandID:      brand,
				Material:     material,
				PriceCents:   price,
				Featured:     featured,
				VIPExclusive: vip,
				Active:       true,
				CreatedAt:    now.Add(-time.Duration(age) * day),
			},
			AgeDays: age,
		}
	}

	return Seed{
		Products: []SeedProduct{
			product("PRD-BONG-01", "Beaker Bong 12in", "bongs", "roor", "glass", 18900, true, false, 5),
			product("PRD-BONG-02", "Straight Tube 14in", "bongs", "roor", "glass", 21500, false, false, 60),
			product("PRD-BONG-03", "Silicone Travel Bong", "bongs", "stratus", "silicone", 4500, false, false, 12),
			product("PRD-BONG-04", "Recycler Limited", "bongs", "illadelph", "glass", 64900, true, true, 90),
			product("PRD-PIPE-01", "Spoon Pipe", "pipes", "stratus", "glass", 2400, false, false, 3),
			product("PRD-PIPE-02", "Chillum Duo", "pipes", "roor", "glass", 1800, false, false, 120),
			product("PRD-PIPE-03", "Walnut Pipe", "pipes", "heritage", "wood", 5600, true, false, 40),
			product("PRD-VAPE-01", "Dry Herb Vaporizer", "vaporizers", "storz", "metal", 27900, true, false, 20),
			product("PRD-VAPE-02", "Pocket Vaporizer", "vaporizers", "pax", "metal", 19900, false, true, 8),
			product("PRD-GRND-01", "4-Piece Grinder", "grinders", "sharpstone", "metal", 3200, false, false, 200),
			product("PRD-GRND-02", "Wooden Grinder", "grinders", "heritage", "wood", 1600, false, false, 15),
			product("PRD-PAPR-01", "Hemp Rolling Papers", "papers", "raw", "hemp", 300, false, false, 300),
		},
		Similarities: []domain.ProductSimilarity{
			{ProductIDA: "PRD-BONG-01", ProductIDB: "PRD-BONG-02", SimilarityType: domain.SimilarityAttributeBased, SimilarityScore: 1.0},
			{ProductIDA: "PRD-BONG-01", ProductIDB: "PRD-GRND-01", SimilarityType: domain.SimilarityCoPurchase, SimilarityScore: 0.72},
			{ProductIDA: "PRD-PIPE-01", ProductIDB: "PRD-GRND-02", SimilarityType: domain.SimilarityCoPurchase, SimilarityScore: 0.64},
			{ProductIDA: "PRD-VAPE-01", ProductIDB: "PRD-GRND-01", SimilarityType: domain.SimilarityCoPurchase, SimilarityScore: 0.58},
			{ProductIDA: "PRD-PAPR-01", ProductIDB: "PRD-GRND-02", SimilarityType: domain.SimilarityCoPurchase, SimilarityScore: 0.51},
			{ProductIDA: "PRD-VAPE-01", ProductIDB: "PRD-VAPE-02", SimilarityType: domain.SimilarityAttributeBased, SimilarityScore: 0.7},
		},
	}
}
