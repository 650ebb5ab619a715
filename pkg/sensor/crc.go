package sensor

// crc8 is the Sensirion checksum: polynomial 0x31, init 0xff, no final xor.
func crc8(data []byte) byte {
	var crc byte = 0xff
	for _, val := range data {
		crc ^= val
		for i := 0; i < 8; i++ {
			if crc&0x80 == 0 {
				crc <<= 1
			} else {
				crc = (crc << 1) ^ 0x31
			}
		}
	}
	return crc
}
