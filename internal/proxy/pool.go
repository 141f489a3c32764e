package proxy

import "sync"

// chunkPool recycles relay buffers of ChunkSize bytes.
var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}

func getChunk() *[]byte {
	return chunkPool.Get().(*[]byte)
}

func putChunk(b *[]byte) {
	chunkPool.Put(b)
}
