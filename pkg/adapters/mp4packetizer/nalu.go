package mp4packetizer

// parseAnnexB splits an Annex-B byte stream into NAL units.
func parseAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := 0
	i := 0

	for i < len(data) {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 {
			startCodeLen := 0
			if data[i+2] == 1 {
				startCodeLen = 3
			} else if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				startCodeLen = 4
			}

			if startCodeLen > 0 {
				if i > start {
					nalus = append(nalus, data[start:i])
				}
				i += startCodeLen
				start = i
				continue
			}
		}
		i++
	}

	if start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

// appendAVCC appends the NAL units of an Annex-B stream with 4-byte big-endian
// length prefixes. Parameter sets are dropped; they live in the avcC box.
func appendAVCC(dst, annexB []byte) []byte {
	for _, nalu := range parseAnnexB(annexB) {
		if len(nalu) == 0 {
			continue
		}
		if t := nalu[0] & 0x1f; t == nalTypeSPS || t == nalTypePPS {
			continue
		}
		n := len(nalu)
		dst = append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		dst = append(dst, nalu...)
	}
	return dst
}

const (
	nalTypeSPS = 7
	nalTypePPS = 8
)
