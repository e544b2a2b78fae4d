package shard

import "errors"

// ErrInvalidShardConfig is returned for an (index, total) pair that does
// not describe a valid worker: total < 1 or index outside [0, total).
var ErrInvalidShardConfig = errors.New("invalid shard configuration")
