package transfer

// ResumeOffset decides where a download should continue from, given
// what the client reports about its local partial copy of the file
// and a way to hash the server's first clientSize bytes on demand.
//
// Rules (mirrors the wire negotiation in spec's transfer section):
//   - no local file (clientSize == 0): start from the beginning.
//   - client's reported size exceeds the server's: start from the
//     beginning (the client's copy cannot be a valid prefix).
//   - client reports no hash: start from the beginning.
//   - client size equals server size: resume (return serverSize, i.e.
//     "already complete") only if the full hashes match.
//   - otherwise: hash the server's first clientSize bytes and resume
//     from clientSize only if that matches the client's reported hash.
func ResumeOffset(clientSize uint64, clientHash string, serverSize uint64, serverSHA256 string, hashPrefix func(n uint64) (string, error)) (uint64, error) {
	if clientSize == 0 {
		return 0, nil
	}
	if clientSize > serverSize {
		return 0, nil
	}
	if clientHash == "" {
		return 0, nil
	}
	if clientSize == serverSize {
		if clientHash == serverSHA256 {
			return serverSize, nil
		}
		return 0, nil
	}

	partial, err := hashPrefix(clientSize)
	if err != nil {
		return 0, err
	}
	if partial == clientHash {
		return clientSize, nil
	}
	return 0, nil
}
