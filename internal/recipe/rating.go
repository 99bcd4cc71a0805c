package recipe

import (
	"fmt"
	"math"
)

// MaxStars is the top of the star scale shown to users.
const MaxStars = 5

// ToBackendRating converts a 0-5 star value (half steps allowed) into the
// backend's 0-10 integer scale.
func ToBackendRating(stars float64) (int, error) {
	if math.IsNaN(stars) || stars < 0 || stars > MaxStars {
		return 0, fmt.Errorf("rating %.1f is outside 0-%d stars", stars, MaxStars)
	}
	return int(math.Round(stars * 2)), nil
}

// ToStars converts a backend rating into stars.
func ToStars(rating int) float64 {
	return float64(rating) / 2
}
