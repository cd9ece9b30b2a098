package keystore

import "github.com/keyguard/keyguardd/pkg/types"

// TrustedContainer is a handle to a slot (spec.md §3). Both container kinds
// validate on every access by checking the slot is still present in the
// engine rather than holding a raw pointer across calls — the Go analogue
// of the "index range check + generation counter" DESIGN NOTES recommend.
type TrustedContainer interface {
	Slot() types.SlotNumber
	ContentProps() (types.KeySlotContentProps, error)
	Payload() ([]byte, error)
	Release()
}

// UserContainer is a read-only handle; many are permitted concurrently.
type UserContainer struct {
	engine    *Engine
	slot      types.SlotNumber
	caller    types.UserId
	released  bool
}

func (c *UserContainer) Slot() types.SlotNumber { return c.slot }

func (c *UserContainer) ContentProps() (types.KeySlotContentProps, error) {
	return c.engine.contentPropsFor(c.slot, c.caller, false)
}

func (c *UserContainer) Payload() ([]byte, error) {
	return c.engine.payloadFor(c.slot)
}

func (c *UserContainer) Release() {
	if c.released {
		return
	}
	c.released = true
	c.engine.releaseUserContainer(c.slot)
}

// OwnerContainer is a read/write handle, exclusive per slot.
type OwnerContainer struct {
	engine   *Engine
	slot     types.SlotNumber
	caller   types.UserId
	released bool
}

func (c *OwnerContainer) Slot() types.SlotNumber { return c.slot }

func (c *OwnerContainer) ContentProps() (types.KeySlotContentProps, error) {
	return c.engine.contentPropsFor(c.slot, c.caller, true)
}

func (c *OwnerContainer) Payload() ([]byte, error) {
	return c.engine.payloadFor(c.slot)
}

func (c *OwnerContainer) Release() {
	if c.released {
		return
	}
	c.released = true
	c.engine.releaseOwnerContainer(c.slot)
}
