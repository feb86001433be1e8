// Package utils holds small byte and JSON helpers shared by the protocol
// codec and its tests.
package utils

// JoinBytes concatenates the given slices into one freshly allocated slice.
// Nil and empty inputs contribute nothing.
func JoinBytes(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}

	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}

	return out
}

// SplitChunks cuts data into consecutive chunks whose sizes are taken from
// sizes in order, cycling when sizes is exhausted. It is used to replay a
// byte stream the way a transport might deliver it.
func SplitChunks(data []byte, sizes ...int) [][]byte {
	if len(sizes) == 0 {
		return [][]byte{data}
	}

	var chunks [][]byte
	for i := 0; len(data) > 0; i++ {
		size := sizes[i%len(sizes)]
		if size <= 0 || size > len(data) {
			size = len(data)
		}

		chunks = append(chunks, data[:size])
		data = data[size:]
	}

	return chunks
}
