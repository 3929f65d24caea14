package tron

// DJB2 hashes key with the djb2 recurrence h = h*33 + b, seeded with
// DJB2Seed, wrapping at 32 bits.
func DJB2(key string) uint32 {
	return djb2(key)
}

func djb2Bytes(key []byte) uint32 {
	return djb2(key)
}

func djb2[K string | []byte](key K) uint32 {
	h := DJB2Seed
	for i := 0; i < len(key); i++ {
		h = h<<5 + h + uint32(key[i])
	}
	return h
}
