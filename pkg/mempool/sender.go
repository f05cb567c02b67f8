package mempool

import (
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// sender is the per-account FIFO view spec.md §4.5 describes: operations admitted from
// the same sender are released for bundling in the order they were admitted, keyed by
// the string form of the op's nonce so AddOp can detect (and reject) a duplicate nonce in
// O(1).
type sender struct {
	address string
	queue   *Queue[*userop.UserOperation]
}

func newSender(address string) *sender {
	return &sender{address: address, queue: NewQueue[*userop.UserOperation](4)}
}

func (s *sender) add(op *userop.UserOperation) {
	s.queue.EnqueueTail(op.Nonce.String(), op)
}

func (s *sender) size() int {
	return s.queue.Size()
}
