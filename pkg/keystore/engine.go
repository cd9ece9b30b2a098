// Package keystore implements the key-storage engine from spec.md §4.3:
// persistent key slots, three orthogonal indexes, owner/user trusted
// containers, atomic multi-slot transactions, and the access-control check.
// The slot operations that take a CallContext check the access matrix
// before touching a slot (a transaction checks every slot in its scope at
// BeginTransaction). The lookups FindSlotByUuid, FindSlotBySpecifier,
// FindObject, FindReferringSlot and GetPrototypedProps take no CallContext
// and do not consult the matrix.
package keystore

import (
	"fmt"
	"sync"
	"time"

	"github.com/keyguard/keyguardd/pkg/access"
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/log"
	"github.com/keyguard/keyguardd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Engine owns every KeySlot, shared across all connections. Mutating
// operations take the write lock for their duration; reads take the read
// lock. Transactions hold the lock only during Begin/Commit/Rollback —
// intra-transaction staging (SaveCopy/Clear while a txn is open) acquires
// it per call, per spec.md §5.
type Engine struct {
	mu sync.RWMutex

	db    *bolt.DB
	slots map[types.SlotNumber]*types.KeySlot

	uuidIdx     uuidIndex
	providerIdx providerIndex
	couidIdx    couidIndex

	ownerOpen     map[types.SlotNumber]bool
	userOpenCount map[types.SlotNumber]int
	subscribed    map[types.SlotNumber]bool

	txns       map[TransactionId]*transactionState
	slotTxn    map[types.SlotNumber]TransactionId
	nextTxnID  uint64

	matrix        *access.Matrix
	reporter      SecurityReporter
	observers     map[uint64]Observer
	onClear       map[types.Uuid]OnClearCallback
	providerTrust map[types.Uuid]ProviderTrust
}

// Open opens (or creates) the slot database at path and loads every slot
// into memory, rebuilding all three indexes. A malformed slot record aborts
// with an error rather than starting with a partial database.
func Open(path string, matrix *access.Matrix, reporter SecurityReporter) (*Engine, error) {
	db, err := openBoltDB(path)
	if err != nil {
		return nil, err
	}
	if reporter == nil {
		reporter = NoopReporter{}
	}
	e := &Engine{
		db:            db,
		slots:         make(map[types.SlotNumber]*types.KeySlot),
		ownerOpen:     make(map[types.SlotNumber]bool),
		userOpenCount: make(map[types.SlotNumber]int),
		subscribed:    make(map[types.SlotNumber]bool),
		txns:          make(map[TransactionId]*transactionState),
		slotTxn:       make(map[types.SlotNumber]TransactionId),
		matrix:        matrix,
		reporter:      reporter,
		observers:     make(map[uint64]Observer),
		onClear:       make(map[types.Uuid]OnClearCallback),
		providerTrust: make(map[types.Uuid]ProviderTrust),
	}
	if err := e.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load key database: %w", err)
	}
	return e, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// SlotCount reports the number of slots currently known to the engine,
// consulted by the admin service's Health/Stats RPCs.
func (e *Engine) SlotCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.slots)
}

// OpenTransactionCount reports the number of in-flight storage transactions.
func (e *Engine) OpenTransactionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.txns)
}

// CreateSlot registers a brand-new empty slot, used by tests to seed the
// database; not itself a spec.md RPC operation, but
// the prerequisite every operation below needs a slot to exist first.
func (e *Engine) CreateSlot(owner types.UserId, provider types.Uuid, prototype types.KeySlotPrototypeProps) (types.SlotNumber, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := &types.KeySlot{
		SlotNumber:   e.nextSlotNumberLocked(),
		SlotUid:      types.NewUuid(),
		Owner:        owner,
		ProviderUuid: provider,
		Prototype:    prototype,
	}
	if err := e.indexSlot(slot); err != nil {
		return 0, err
	}
	e.slots[slot.SlotNumber] = slot
	if err := e.persistSlots(slot); err != nil {
		return 0, err
	}
	return slot.SlotNumber, nil
}

func (e *Engine) nextSlotNumberLocked() types.SlotNumber {
	var max types.SlotNumber
	found := false
	for n := range e.slots {
		if !found || n > max {
			max = n
			found = true
		}
	}
	if !found {
		return 0
	}
	return max + 1
}

func fault(code keyerrc.Errc, format string, args ...interface{}) error {
	return keyerrc.New(code, fmt.Sprintf(format, args...))
}

func (e *Engine) requireSlotLocked(slot types.SlotNumber) (*types.KeySlot, error) {
	s, ok := e.slots[slot]
	if !ok {
		return nil, fault(keyerrc.UnreservedResource, "slot %d does not exist", slot)
	}
	return s, nil
}

func (e *Engine) checkAccess(user types.UserId, slot types.SlotNumber, op types.Operation) error {
	if e.matrix == nil {
		return nil
	}
	err := e.matrix.Check(user, slot, op)
	return err
}

func (e *Engine) report(user types.UserId, slot types.SlotNumber, op types.Operation, outcome error) {
	if outcome != nil {
		log.WithUser(uint64(user)).Warn().
			Uint64("slot", uint64(slot)).
			Err(outcome).
			Msg("security event denied")
	}
	e.reporter.Report(user, slot, op, outcome)
}

// FindSlotByUuid looks up a slot by its logical identity.
func (e *Engine) FindSlotByUuid(slotUid types.Uuid) (types.SlotNumber, types.Uuid, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.uuidIdx.find(slotUid)
	if !ok {
		return 0, types.Uuid{}, false
	}
	return n, e.slots[n].ProviderUuid, true
}

// FindSlotBySpecifier resolves a human-entered slot specifier — either a
// slot-uuid string (any form UuidFromString accepts, e.g. the hyphenated
// form) or a bare decimal slot number — to a slot.
func (e *Engine) FindSlotBySpecifier(spec string) (types.SlotNumber, types.Uuid, error) {
	if uid, err := types.UuidFromString(spec); err == nil {
		if n, provider, ok := e.FindSlotByUuid(uid); ok {
			return n, provider, nil
		}
		return 0, types.Uuid{}, fault(keyerrc.InvalidArgument, "no slot with uuid %s", spec)
	}
	var n uint64
	if _, err := fmt.Sscanf(spec, "%d", &n); err != nil {
		return 0, types.Uuid{}, fault(keyerrc.InvalidArgument, "unrecognized slot specifier %q", spec)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	slot, ok := e.slots[types.SlotNumber(n)]
	if !ok {
		return 0, types.Uuid{}, fault(keyerrc.InvalidArgument, "no slot numbered %d", n)
	}
	return slot.SlotNumber, slot.ProviderUuid, nil
}

// FindObject resumes a scan over slots whose content matches (couid, typ,
// provider); pass the previous result to continue, types.InvalidSlotNumber
// to start. provider == nil (NilUuid) matches any provider.
func (e *Engine) FindObject(couid types.CryptoObjectUid, typ types.ObjectType, provider types.Uuid, previousFound types.SlotNumber) types.SlotNumber {
	e.mu.RLock()
	defer e.mu.RUnlock()

	candidate := previousFound
	for {
		next := e.couidIdx.find(couid, typ, candidate)
		if next == types.InvalidSlotNumber {
			return types.InvalidSlotNumber
		}
		if provider.IsNil() || e.slots[next].ProviderUuid == provider {
			return next
		}
		candidate = next
	}
}

// FindReferringSlot resumes a scan over slots whose content dependency uid
// equals target's content couid.
func (e *Engine) FindReferringSlot(target types.SlotNumber, previousFound types.SlotNumber) (types.SlotNumber, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	targetSlot, err := e.requireSlotLocked(target)
	if err != nil {
		return types.InvalidSlotNumber, err
	}
	if !targetSlot.HasContent {
		return types.InvalidSlotNumber, fault(keyerrc.EmptyContainer, "slot %d is empty", target)
	}
	wantCouid := targetSlot.Content.Couid

	started := previousFound == types.InvalidSlotNumber
	var candidates []types.SlotNumber
	for n := range e.slots {
		candidates = append(candidates, n)
	}
	sortSlotNumbers(candidates)
	for _, n := range candidates {
		s := e.slots[n]
		if !s.HasContent || !s.Content.HasDependency || !s.Content.DependencyUid.Equal(wantCouid) {
			continue
		}
		if !started {
			if n == previousFound {
				started = true
			}
			continue
		}
		return n, nil
	}
	return types.InvalidSlotNumber, nil
}

func sortSlotNumbers(s []types.SlotNumber) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// IsEmpty reports whether slot currently holds no content.
func (e *Engine) IsEmpty(ctx CallContext, slot types.SlotNumber) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return false, err
	}
	if err := e.checkAccess(ctx.User, slot, types.OpRead); err != nil {
		return false, err
	}
	return s.Empty(), nil
}

// OpenAsUser returns a read-only container; fails if the slot is empty.
func (e *Engine) OpenAsUser(ctx CallContext, slot types.SlotNumber, subscribe bool) (*UserContainer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return nil, err
	}
	if err := e.checkAccess(ctx.User, slot, types.OpRead); err != nil {
		e.report(ctx.User, slot, types.OpRead, err)
		return nil, err
	}
	if s.Empty() {
		err := fault(keyerrc.EmptyContainer, "slot %d is empty", slot)
		e.report(ctx.User, slot, types.OpRead, err)
		return nil, err
	}
	e.userOpenCount[slot]++
	if subscribe {
		e.subscribed[slot] = true
	}
	e.report(ctx.User, slot, types.OpRead, nil)
	return &UserContainer{engine: e, slot: slot, caller: ctx.User}, nil
}

// OpenAsOwner returns an exclusive read/write container.
func (e *Engine) OpenAsOwner(ctx CallContext, slot types.SlotNumber) (*OwnerContainer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return nil, err
	}
	if err := e.checkAccess(ctx.User, slot, types.OpReadWrite); err != nil {
		e.report(ctx.User, slot, types.OpReadWrite, err)
		return nil, err
	}
	if s.Owner != ctx.User {
		err := fault(keyerrc.AccessViolation, "user %d is not owner of slot %d", ctx.User, slot)
		e.report(ctx.User, slot, types.OpReadWrite, err)
		return nil, err
	}
	if e.ownerOpen[slot] {
		err := fault(keyerrc.BusyResource, "slot %d already has an open owner container", slot)
		e.report(ctx.User, slot, types.OpReadWrite, err)
		return nil, err
	}
	e.ownerOpen[slot] = true
	e.report(ctx.User, slot, types.OpReadWrite, nil)
	return &OwnerContainer{engine: e, slot: slot, caller: ctx.User}, nil
}

func (e *Engine) releaseUserContainer(slot types.SlotNumber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.userOpenCount[slot] > 0 {
		e.userOpenCount[slot]--
	}
}

func (e *Engine) releaseOwnerContainer(slot types.SlotNumber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ownerOpen[slot] = false
}

func (e *Engine) contentPropsFor(slot types.SlotNumber, caller types.UserId, isOwner bool) (types.KeySlotContentProps, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return types.KeySlotContentProps{}, err
	}
	props := s.Content
	if !isOwner {
		props.Exportable = false
	}
	return props, nil
}

func (e *Engine) payloadFor(slot types.SlotNumber) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return nil, err
	}
	return s.Payload, nil
}

// GetPrototypedProps returns the slot's fixed prototype metadata.
func (e *Engine) GetPrototypedProps(slot types.SlotNumber) (types.KeySlotPrototypeProps, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return types.KeySlotPrototypeProps{}, err
	}
	return s.Prototype, nil
}

// GetContentProps returns the slot's current content metadata. For callers
// other than the slot's owner, Exportable is masked to false.
func (e *Engine) GetContentProps(ctx CallContext, slot types.SlotNumber) (types.KeySlotContentProps, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return types.KeySlotContentProps{}, err
	}
	if err := e.checkAccess(ctx.User, slot, types.OpRead); err != nil {
		return types.KeySlotContentProps{}, err
	}
	props := s.Content
	if s.Owner != ctx.User {
		props.Exportable = false
	}
	return props, nil
}

// nextVersion implements the COUID versioning rule (spec.md §4.3, §9):
// bump using wall-clock nanoseconds, falling back to prev+1 if the clock
// has not advanced (monotonicity via max(now_ns, prev+1), resolving the
// Open Question about backwards clock jumps in favor of monotonicity).
func nextVersion(prev uint64) uint64 {
	now := uint64(time.Now().UnixNano())
	if now > prev {
		return now
	}
	return prev + 1
}

// SaveCopy persists newContent/payload into target, per spec.md §4.3. If a
// transaction owns target, the write is staged instead of applied live.
func (e *Engine) SaveCopy(ctx CallContext, target types.SlotNumber, newContent types.KeySlotContentProps, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.requireSlotLocked(target)
	if err != nil {
		return err
	}
	if err := e.checkAccess(ctx.User, target, types.OpWrite); err != nil {
		e.report(ctx.User, target, types.OpWrite, err)
		return err
	}
	if s.Owner != ctx.User {
		err := fault(keyerrc.AccessViolation, "user %d is not owner of slot %d", ctx.User, target)
		e.report(ctx.User, target, types.OpWrite, err)
		return err
	}
	if e.ownerOpen[target] {
		err := fault(keyerrc.BusyResource, "slot %d has an open owner container", target)
		e.report(ctx.User, target, types.OpWrite, err)
		return err
	}

	if newContent.ObjectType != s.Prototype.ObjectType {
		err := fault(keyerrc.ContentRestrictions, "object type does not match slot prototype")
		e.report(ctx.User, target, types.OpWrite, err)
		return err
	}
	if !s.Prototype.Exportable && newContent.Exportable {
		err := fault(keyerrc.ContentRestrictions, "slot prototype forbids an exportable object")
		e.report(ctx.User, target, types.OpWrite, err)
		return err
	}

	// Duplicate-COUID detection: same (couid, type) already indexed anywhere
	// other than target itself. couidIdx.insert below enforces this too, but
	// checking here lets an overwrite of target's own prior content through.
	if existing := e.couidIdx.find(newContent.Couid, newContent.ObjectType, types.InvalidSlotNumber); existing != types.InvalidSlotNumber && existing != target {
		err := fault(keyerrc.ContentDuplication, "couid already present on slot %d", existing)
		e.report(ctx.User, target, types.OpWrite, err)
		return err
	}

	if newContent.HasDependency {
		if e.couidIdx.find(newContent.DependencyUid, newContent.ObjectType, types.InvalidSlotNumber) == types.InvalidSlotNumber {
			err := fault(keyerrc.BadObjectReference, "dependency couid does not resolve to any slot")
			e.report(ctx.User, target, types.OpWrite, err)
			return err
		}
	}

	if s.HasContent && newContent.Couid.Generator == s.Content.Couid.Generator {
		newContent.Couid.Version = nextVersion(s.Content.Couid.Version)
	}

	if txnID, staged := e.slotTxn[target]; staged {
		txn := e.txns[txnID]
		base := s
		if prior, ok := txn.staged[target]; ok {
			base = prior
		}
		shadow := *base
		shadow.HasContent = true
		shadow.Content = newContent
		shadow.Payload = append([]byte(nil), payload...)
		txn.staged[target] = &shadow
		e.report(ctx.User, target, types.OpWrite, nil)
		return nil
	}

	e.deindexSlotContent(s)
	s.HasContent = true
	s.Content = newContent
	s.Payload = append([]byte(nil), payload...)
	if err := e.couidIdx.insert(s.Content.Couid, s.Content.ObjectType, target); err != nil {
		e.report(ctx.User, target, types.OpWrite, err)
		return err
	}
	if err := e.persistSlots(s); err != nil {
		e.report(ctx.User, target, types.OpWrite, err)
		return fault(keyerrc.ResourceFault, "persist slot %d: %v", target, err)
	}
	e.notifySubscribers(target)
	e.report(ctx.User, target, types.OpWrite, nil)
	return nil
}

// Clear securely erases slot's content. A registered OnClearCallback for
// the owning provider may veto the operation.
func (e *Engine) Clear(ctx CallContext, slot types.SlotNumber) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return err
	}
	if err := e.checkAccess(ctx.User, slot, types.OpWrite); err != nil {
		e.report(ctx.User, slot, types.OpWrite, err)
		return err
	}
	if s.Owner != ctx.User {
		err := fault(keyerrc.AccessViolation, "user %d is not owner of slot %d", ctx.User, slot)
		e.report(ctx.User, slot, types.OpWrite, err)
		return err
	}
	if e.ownerOpen[slot] {
		err := fault(keyerrc.BusyResource, "slot %d has an open owner container", slot)
		e.report(ctx.User, slot, types.OpWrite, err)
		return err
	}
	if cb, ok := e.onClear[s.ProviderUuid]; ok {
		if err := cb.OnClear(slot); err != nil {
			vetoErr := fault(keyerrc.RuntimeFault, "clear vetoed by provider %s: %v", s.ProviderUuid, err)
			e.report(ctx.User, slot, types.OpWrite, vetoErr)
			return vetoErr
		}
	}

	if txnID, staged := e.slotTxn[slot]; staged {
		txn := e.txns[txnID]
		base := s
		if prior, ok := txn.staged[slot]; ok {
			base = prior
		}
		shadow := *base
		shadow.HasContent = false
		shadow.Content = types.KeySlotContentProps{}
		shadow.Payload = nil
		txn.staged[slot] = &shadow
		e.report(ctx.User, slot, types.OpWrite, nil)
		return nil
	}

	e.deindexSlotContent(s)
	s.HasContent = false
	s.Content = types.KeySlotContentProps{}
	s.Payload = nil

	if err := e.persistSlots(s); err != nil {
		e.report(ctx.User, slot, types.OpWrite, err)
		return fault(keyerrc.ResourceFault, "persist slot %d: %v", slot, err)
	}
	e.notifySubscribers(slot)
	e.report(ctx.User, slot, types.OpWrite, nil)
	return nil
}

// UpdateKeySlot is the lower-level path a provider's own save flow uses,
// skipping SaveCopy's prototype checks and its up-front duplicate check
// (spec.md §4.3: "used by a provider's own save flow"). A (couid, type)
// already indexed for another slot is still rejected when the COUID index
// insert fails.
func (e *Engine) UpdateKeySlot(ctx CallContext, slot types.SlotNumber, content types.KeySlotContentProps, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return err
	}
	if err := e.checkAccess(ctx.User, slot, types.OpWrite); err != nil {
		return err
	}
	if s.Owner != ctx.User {
		return fault(keyerrc.AccessViolation, "user %d is not owner of slot %d", ctx.User, slot)
	}
	e.deindexSlotContent(s)
	s.HasContent = true
	s.Content = content
	s.Payload = append([]byte(nil), payload...)
	if err := e.couidIdx.insert(s.Content.Couid, s.Content.ObjectType, slot); err != nil {
		return err
	}
	if err := e.persistSlots(s); err != nil {
		return fault(keyerrc.ResourceFault, "persist slot %d: %v", slot, err)
	}
	e.notifySubscribers(slot)
	return nil
}

// ResetReference clears referrer's dependency link to referenced. Caller
// must own both slots.
func (e *Engine) ResetReference(ctx CallContext, referrer, referenced types.SlotNumber) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, err := e.requireSlotLocked(referrer)
	if err != nil {
		return err
	}
	target, err := e.requireSlotLocked(referenced)
	if err != nil {
		return err
	}
	if err := e.checkAccess(ctx.User, referrer, types.OpWrite); err != nil {
		e.report(ctx.User, referrer, types.OpWrite, err)
		return err
	}
	if err := e.checkAccess(ctx.User, referenced, types.OpWrite); err != nil {
		e.report(ctx.User, referenced, types.OpWrite, err)
		return err
	}
	if rs.Owner != ctx.User || target.Owner != ctx.User {
		err := fault(keyerrc.AccessViolation, "caller must own both slots")
		e.report(ctx.User, referrer, types.OpWrite, err)
		return err
	}
	if !rs.HasContent || !rs.Content.HasDependency {
		return fault(keyerrc.BadObjectReference, "slot %d has no dependency to reset", referrer)
	}
	rs.Content.HasDependency = false
	rs.Content.DependencyUid = types.CryptoObjectUid{}
	if err := e.persistSlots(rs); err != nil {
		return fault(keyerrc.ResourceFault, "persist slot %d: %v", referrer, err)
	}
	return nil
}

// CanLoadToCryptoProvider answers whether provider's trust matrix accepts
// slot's concrete content.
func (e *Engine) CanLoadToCryptoProvider(ctx CallContext, slot types.SlotNumber, provider types.Uuid) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, err := e.requireSlotLocked(slot)
	if err != nil {
		return false, err
	}
	if err := e.checkAccess(ctx.User, slot, types.OpRead); err != nil {
		return false, err
	}
	if !s.HasContent {
		return false, fault(keyerrc.EmptyContainer, "slot %d is empty", slot)
	}
	trust, ok := e.providerTrust[provider]
	if !ok {
		return false, nil
	}
	return trust.Accepts(s.Content), nil
}

// RegisterProviderTrust installs the content-type/algorithm trust set for
// a crypto provider uuid, consulted by CanLoadToCryptoProvider.
func (e *Engine) RegisterProviderTrust(provider types.Uuid, trust ProviderTrust) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providerTrust[provider] = trust
}

// RegisterOnClearCallback installs the veto hook for provider; at most one
// per provider uuid.
func (e *Engine) RegisterOnClearCallback(provider types.Uuid, cb OnClearCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClear[provider] = cb
}

// RegisterObserver installs observer for connID, returning whatever was
// previously registered (spec.md §4.3: "at most one observer per
// connection; returns the displaced one").
func (e *Engine) RegisterObserver(connID uint64, observer Observer) Observer {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.observers[connID]
	if observer == nil {
		delete(e.observers, connID)
	} else {
		e.observers[connID] = observer
	}
	return prev
}

func (e *Engine) notifySubscribers(slot types.SlotNumber) {
	if !e.subscribed[slot] {
		return
	}
	for _, obs := range e.observers {
		obs.OnSlotUpdated(slot)
	}
}
