package identity_test

import (
	"sync"
	"testing"
	"time"

	"github.com/agubarev/ztcp/pkg/identity"
	"github.com/agubarev/ztcp/pkg/keymaterial"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func managerForTesting(t *testing.T) (*identity.Manager, *keymaterial.Manager, *fakeClock) {
	keys := keymaterial.NewManager()

	m, err := identity.NewManager(keys)
	require.NoError(t, err)

	clock := newFakeClock()
	m.SetClock(clock.Now)

	return m, keys, clock
}

func sensorAttributes() identity.Attributes {
	return identity.Attributes{
		"serial":       "SN-0042-AX",
		"mac":          "00:1b:44:11:3a:b7",
		"model":        "TH-200",
		"manufacturer": "Acme Sensors",
	}
}
