package bot

import "hash/fnv"

// SessionID derives the stable signed session identifier for a Matrix user.
// The session store is keyed by integers; FNV-1a over the full MXID gives a
// deterministic mapping that survives restarts without any lookup table.
func SessionID(userID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	return int64(h.Sum64())
}
