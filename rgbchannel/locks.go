package rgbchannel

import (
	"sync"

	"github.com/lightninglabs/rgb-lightning/rgb"
)

// contractLocks hands out one mutex per contract. A funding attempt holds the
// lock of its contract from the balance check until its pending allocation is
// written.
type contractLocks struct {
	mtx   sync.Mutex
	locks map[rgb.ContractID]*sync.Mutex
}

// newContractLocks creates an empty lock set.
func newContractLocks() *contractLocks {
	return &contractLocks{
		locks: make(map[rgb.ContractID]*sync.Mutex),
	}
}

// lock acquires the lock of the contract and returns the function that
// releases it.
func (c *contractLocks) lock(contractID rgb.ContractID) func() {
	c.mtx.Lock()
	l, ok := c.locks[contractID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[contractID] = l
	}
	c.mtx.Unlock()

	l.Lock()

	return l.Unlock
}
