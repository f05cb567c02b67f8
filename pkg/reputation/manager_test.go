package reputation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

var testAddr = common.HexToAddress("0x1234567890123456789012345678901234567890")

func TestGetStatusNoHistoryIsOK(t *testing.T) {
	m := NewManager(DefaultConfig(), logr.Discard())
	assert.Equal(t, OK, m.GetStatus(testAddr))
}

func TestGetStatusTransitions(t *testing.T) {
	cfg := DefaultConfig()

	testCases := []struct {
		name        string
		opsSeen     uint64
		opsIncluded uint64
		want        Status
	}{
		{"well above expected inclusion rate", 1000, 95, OK},
		{"below expected but within throttling slack", 1000, 91, OK},
		{"below throttling slack, within ban slack", 1000, 60, THROTTLED},
		{"below ban slack", 1000, 10, BANNED},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(cfg, logr.Discard())
			m.Set(testAddr, Entry{OpsSeen: tc.opsSeen, OpsIncluded: tc.opsIncluded})
			assert.Equal(t, tc.want, m.GetStatus(testAddr))
		})
	}
}

func TestUpdateSeenAndIncludedStatus(t *testing.T) {
	m := NewManager(DefaultConfig(), logr.Discard())

	for i := 0; i < 5; i++ {
		m.UpdateSeenStatus(testAddr)
	}
	m.UpdateIncludedStatus(testAddr)

	entry, _ := m.Get(testAddr)
	assert.Equal(t, uint64(5), entry.OpsSeen)
	assert.Equal(t, uint64(1), entry.OpsIncluded)
}

func TestClearResetsAllEntries(t *testing.T) {
	m := NewManager(DefaultConfig(), logr.Discard())
	m.Set(testAddr, Entry{OpsSeen: 1000, OpsIncluded: 0})
	assert.Equal(t, BANNED, m.GetStatus(testAddr))

	m.Clear()
	assert.Equal(t, OK, m.GetStatus(testAddr))
	assert.Empty(t, m.Dump())
}

func TestDumpReturnsAllTrackedEntities(t *testing.T) {
	m := NewManager(DefaultConfig(), logr.Discard())
	other := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	m.UpdateSeenStatus(testAddr)
	m.UpdateSeenStatus(other)

	dump := m.Dump()
	assert.Len(t, dump, 2)
	assert.Equal(t, uint64(1), dump[testAddr].OpsSeen)
	assert.Equal(t, uint64(1), dump[other].OpsSeen)
}
