package rpc

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxProof carries what the contract needs to check a payout on its
// header relay. All fields are hex except the numbers.
type TxProof struct {
	TxHash      string `json:"txHash"`
	RawTx       string `json:"rawTx"`
	Height      int64  `json:"height"`
	Index       int64  `json:"index"`
	Header      string `json:"header"`
	MerkleProof string `json:"merkleProof"`
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// MerkleBranch reads the sibling path of leaf index out of a tree laid out
// by blockchain.BuildMerkleTreeStore. A missing right sibling is the node
// itself, as the tree duplicates the last hash of odd levels.
func MerkleBranch(store []*chainhash.Hash, numLeaves int, index int) []chainhash.Hash {
	var branch []chainhash.Hash
	offset := 0
	for width := nextPowerOfTwo(numLeaves); width > 1; width >>= 1 {
		sibling := store[offset+(index^1)]
		if sibling == nil {
			sibling = store[offset+index]
		}
		branch = append(branch, *sibling)
		offset += width
		index >>= 1
	}
	return branch
}

// MerkleRootFromBranch folds a branch back to the root.
func MerkleRootFromBranch(leaf chainhash.Hash, branch []chainhash.Hash, index int) chainhash.Hash {
	cur := leaf
	for _, h := range branch {
		var buf [chainhash.HashSize * 2]byte
		if index&1 == 0 {
			copy(buf[:chainhash.HashSize], cur[:])
			copy(buf[chainhash.HashSize:], h[:])
		} else {
			copy(buf[:chainhash.HashSize], h[:])
			copy(buf[chainhash.HashSize:], cur[:])
		}
		cur = chainhash.DoubleHashH(buf[:])
		index >>= 1
	}
	return cur
}
