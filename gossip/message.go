// Package gossip defines the wire messages Rensa nodes exchange over the
// gossip overlay, and the Transport interface the consensus driver consumes
// without caring how messages actually move between peers (spec §1, §6).
package gossip

import (
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// Kind tags which payload field of a Message is populated.
type Kind string

const (
	KindBlock       Kind = "block"
	KindVote        Kind = "vote"
	KindTransaction Kind = "transaction"
	KindPeerHello   Kind = "peer_hello"
)

// PeerHello carries a node's chain ID and identity. TCPTransport neither
// sends one on connect nor waits for one, and the consensus driver ignores
// it on receipt, so no chain-ID check takes place between peers.
type PeerHello struct {
	ChainID string        `json:"chain_id"`
	NodeID  crypto.Pubkey `json:"node_id"`
}

// Message is the tagged union every gossip connection carries: exactly one
// of Block, Vote, Transaction, or PeerHello is populated, selected by Kind.
type Message struct {
	Kind        Kind                `json:"kind"`
	Block       *types.Block        `json:"block,omitempty"`
	Vote        *types.Vote         `json:"vote,omitempty"`
	Transaction *types.Transaction  `json:"transaction,omitempty"`
	PeerHello   *PeerHello          `json:"peer_hello,omitempty"`
}

// BlockMessage wraps b as a Block-kind Message.
func BlockMessage(b *types.Block) Message { return Message{Kind: KindBlock, Block: b} }

// VoteMessage wraps v as a Vote-kind Message.
func VoteMessage(v *types.Vote) Message { return Message{Kind: KindVote, Vote: v} }

// TransactionMessage wraps tx as a Transaction-kind Message.
func TransactionMessage(tx *types.Transaction) Message {
	return Message{Kind: KindTransaction, Transaction: tx}
}

// PeerHelloMessage wraps h as a PeerHello-kind Message.
func PeerHelloMessage(h PeerHello) Message { return Message{Kind: KindPeerHello, PeerHello: &h} }

// Validate reports whether m's Kind agrees with which payload field is set,
// rejecting a message a peer sent with a mismatched or empty tag before it
// ever reaches the consensus driver.
func (m Message) Validate() error {
	switch m.Kind {
	case KindBlock:
		if m.Block == nil {
			return fmt.Errorf("gossip: %s message missing block payload", m.Kind)
		}
	case KindVote:
		if m.Vote == nil {
			return fmt.Errorf("gossip: %s message missing vote payload", m.Kind)
		}
	case KindTransaction:
		if m.Transaction == nil {
			return fmt.Errorf("gossip: %s message missing transaction payload", m.Kind)
		}
	case KindPeerHello:
		if m.PeerHello == nil {
			return fmt.Errorf("gossip: %s message missing peer_hello payload", m.Kind)
		}
	default:
		return fmt.Errorf("gossip: unknown message kind %q", m.Kind)
	}
	return nil
}
