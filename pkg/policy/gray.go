package policy

import (
	"math"
	"strings"
	"unicode/utf16"
)

// BucketCount is the number of routing buckets used for gray release.
const BucketCount = 10000

// Bucket returns the stable routing bucket in [0, BucketCount) for the pair.
// The hash is a 31-based polynomial over the policy id folded to 32 bits and
// the UTF-16 code units of the route key; bucket assignment must stay stable
// across releases so callers keep their branch.
func Bucket(policyID int64, routeKey string) int {
	var h int32 = 1
	h = 31*h + int32(uint64(policyID)^(uint64(policyID)>>32))
	h = 31*h + stringHash(routeKey)
	return floorMod(int(h), BucketCount)
}

func stringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

func floorMod(x, m int) int {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}

// GrayThreshold converts a ratio in [0,1] to a bucket threshold, rounding
// half away from zero.
func GrayThreshold(ratio float64) int {
	return int(math.Round(ratio * BucketCount))
}

// RouteToGray reports whether the caller identified by routeKey should use the
// candidate version.
func RouteToGray(policyID int64, routeKey string, ratio float64) bool {
	if strings.TrimSpace(routeKey) == "" {
		return false
	}
	threshold := GrayThreshold(ratio)
	if threshold <= 0 {
		return false
	}
	if threshold >= BucketCount {
		return true
	}
	return Bucket(policyID, routeKey) < threshold
}
