package protocol

// MerkleRoot folds an ordered list of serialized leaves into a single root.
// The second return value is false when there is nothing to aggregate.
//
// Leaves are hashed over their exact bytes. Parent nodes hash the
// concatenation of their children's hex digests, not the raw digest bytes.
// A level with an odd number of nodes pairs its last node with itself.
func MerkleRoot(leaves []string) (string, bool) {
	if len(leaves) == 0 {
		return "", false
	}
	level := make([]string, 0, len(leaves)+1)
	for _, leaf := range leaves {
		level = append(level, SHA256Hex([]byte(leaf)))
	}
	if len(level) == 1 {
		level = append(level, level[0])
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, nodeHash(left, right))
		}
		level = next
	}
	return level[0], true
}

// TransactionLeaves serializes transactions in order for MerkleRoot.
func TransactionLeaves(txs []Transaction) ([]string, error) {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		raw, err := CanonicalJSON(tx)
		if err != nil {
			return nil, err
		}
		out = append(out, string(raw))
	}
	return out, nil
}

// TransactionsRoot is MerkleRoot over the canonical encoding of txs; empty
// input yields "".
func TransactionsRoot(txs []Transaction) (string, error) {
	leaves, err := TransactionLeaves(txs)
	if err != nil {
		return "", err
	}
	root, _ := MerkleRoot(leaves)
	return root, nil
}

func nodeHash(left, right string) string {
	return SHA256Hex([]byte(left + right))
}
