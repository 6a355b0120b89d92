package store

import "strings"

// Key namespace prefixes. These are part of the on-disk index format;
// changing them breaks compatibility with existing indexes.
const (
	tokenPrefix        = "w|"
	pairPrefix         = "p|"
	documentPrefix     = "d|"
	geohashPrefix      = "g|"
	filterPrefix       = "f|"
	edgeNgramPrefix    = "n|"
	geohashQueryPrefix = "gx|"
)

// TokenKey returns the sorted-set key holding the scored documents for a
// token.
func TokenKey(token string) string {
	return tokenPrefix + token
}

// PairKey returns the set key holding the tokens co-occurring with token in
// at least one document.
func PairKey(token string) string {
	return pairPrefix + token
}

// DocumentKey returns the hash key holding a document's fields.
func DocumentKey(id string) string {
	return documentPrefix + id
}

// GeohashKey returns the sorted-set key of documents inside a geohash cell.
func GeohashKey(cell string) string {
	return geohashPrefix + cell
}

// FilterKey returns the set key of documents carrying the given attribute
// value.
func FilterKey(name, value string) string {
	return filterPrefix + name + "|" + value
}

// EdgeNgramKey returns the set key mapping an edge n-gram to the full
// tokens it prefixes.
func EdgeNgramKey(ngram string) string {
	return edgeNgramPrefix + ngram
}

// GeohashQueryKey returns the ephemeral key holding the unioned geohash
// neighborhood for one query center. The store gives it a short TTL so
// abandoned searches cannot leak keys.
func GeohashQueryKey(cell string) string {
	return geohashQueryPrefix + cell
}

// IsTokenKey reports whether key belongs to the token namespace. Only token
// keys count toward the should-match coverage threshold.
func IsTokenKey(key string) bool {
	return strings.HasPrefix(key, tokenPrefix)
}

// TokenFromKey strips the token namespace prefix.
func TokenFromKey(key string) string {
	return strings.TrimPrefix(key, tokenPrefix)
}

// IsSortedSetKey reports whether key is backed by a sorted set (scored
// members) rather than a plain set.
func IsSortedSetKey(key string) bool {
	return strings.HasPrefix(key, tokenPrefix) ||
		strings.HasPrefix(key, geohashPrefix) ||
		strings.HasPrefix(key, geohashQueryPrefix)
}
