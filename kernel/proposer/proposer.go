// Package proposer defines the action-proposer seam the kernel
// consumes: a pure function turning (state, observation, parameters,
// rng) into a Merkle-committed ProposalSet, plus a deterministic
// reference implementation.
package proposer

import (
	"encoding/binary"

	"github.com/cohkernel/gmk/kernel/canon"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/merkle"
	"github.com/cohkernel/gmk/kernel/prng"
	"github.com/cohkernel/gmk/kernel/state"
)

// Proposal is one ranked candidate action. ID is deterministic: the
// hash of action, score, and index. Taint is an opaque tag the governor
// may use to reject; the kernel assigns no meaning to it.
type Proposal struct {
	ID     khash.Digest
	Action *state.Action
	ScoreQ int64
	Taint  uint8
}

// ToCanonical renders the proposal for leaf hashing.
func (p *Proposal) ToCanonical() map[string]any {
	return map[string]any{
		"id":      string(p.ID),
		"action":  p.Action.ToCanonical(),
		"score_q": p.ScoreQ,
		"taint":   int64(p.Taint),
	}
}

// Hash returns sha256(JCS(proposal)), the value recorded as
// chosen_proposal_hash in the step receipt. The proposal's Merkle leaf
// is the leaf-domain (0x00-prefixed) hash of the same JCS bytes.
func (p *Proposal) Hash() (khash.Digest, error) {
	return khash.SumJCS(p.ToCanonical())
}

// ProposalSet is the ordered candidate sequence emitted in one tick,
// with a Merkle tree whose leaves are the JCS encodings of the
// proposals, hashed with the 0x00 leaf prefix.
type ProposalSet struct {
	Proposals []*Proposal
	tree      *merkle.Tree
}

// NewProposalSet assigns deterministic IDs, builds the Merkle tree, and
// returns the committed set. IDs are hash(action || score || index).
func NewProposalSet(proposals []*Proposal) (*ProposalSet, error) {
	for i, p := range proposals {
		id, err := proposalID(p, i)
		if err != nil {
			return nil, err
		}
		p.ID = id
	}
	leaves := make([][]byte, len(proposals))
	for i, p := range proposals {
		b, err := canon.Marshal(p.ToCanonical())
		if err != nil {
			return nil, err
		}
		leaves[i] = b
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, err
	}
	return &ProposalSet{Proposals: proposals, tree: tree}, nil
}

// Root returns the set's Merkle root, committed in every step receipt.
func (ps *ProposalSet) Root() khash.Digest {
	return ps.tree.Root()
}

// Proof returns the directed inclusion path for the proposal at index.
func (ps *ProposalSet) Proof(index int) ([]merkle.ProofStep, error) {
	return ps.tree.Proof(index)
}

func proposalID(p *Proposal, index int) (khash.Digest, error) {
	body, err := canon.Marshal(map[string]any{
		"action":  p.Action.ToCanonical(),
		"score_q": p.ScoreQ,
		"index":   int64(index),
	})
	if err != nil {
		return "", err
	}
	idx := binary.BigEndian.AppendUint64(nil, uint64(index))
	return khash.Sum(append(body, idx...)), nil
}

// Proposer is the seam the governor and episode runtime consume. Pure
// over its inputs: identical (s, obs, p, rng) yield byte-identical
// sets. Implementations must return at least one proposal (Stay, if
// nothing else).
type Proposer interface {
	Propose(s *state.State, obs *state.Observation, p *state.Parameters, rng *prng.Source) (*ProposalSet, error)
}
