package claims

import "strconv"

var (
	appendedTiersKey = []byte("claims/tiers/appended")
	activeEditionKey = []byte("claims/edition/active")
	statsKey         = []byte("claims/stats")
	nullifierPrefix  = "claims/nullifier/"
)

func tierCountKey(idx uint8) []byte {
	return []byte("claims/stats/tier/" + strconv.FormatUint(uint64(idx), 10))
}
