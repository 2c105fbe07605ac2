//go:build !linux

package worker

// threadID is unsupported here; CPU limits fall back to process time.
func threadID() int32 { return 0 }
