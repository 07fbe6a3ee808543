package ingest

import (
	"hash/fnv"
	"sync"
)

// keyedMutex serializes writes per document id so two concurrent adds
// of the same document cannot interleave between classify and write.
// Keys hash onto a fixed set of stripes.
type keyedMutex struct {
	stripes []sync.Mutex
}

func newKeyedMutex(n int) *keyedMutex {
	if n <= 0 {
		n = 64
	}
	return &keyedMutex{stripes: make([]sync.Mutex, n)}
}

// Lock locks the stripe for key and returns the unlock func.
func (k *keyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	mu.Lock()
	return mu.Unlock
}
