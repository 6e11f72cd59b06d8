package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_validateSettings(t *testing.T) {
	testcases := []struct {
		name     string
		settings Settings
		expected Settings
	}{
		{
			name:     "relay disabled leaves zero values untouched",
			settings: Settings{},
			expected: Settings{},
		},
		{
			name:     "relay enabled applies defaults",
			settings: Settings{EnableRelay: true},
			expected: Settings{EnableRelay: true, PollingInterval: defaultPollingInterval, BatchLimit: defaultBatchLimit},
		},
		{
			name:     "relay enabled keeps explicit values",
			settings: Settings{EnableRelay: true, PollingInterval: time.Second, BatchLimit: 10},
			expected: Settings{EnableRelay: true, PollingInterval: time.Second, BatchLimit: 10},
		},
		{
			name:     "negative values fall back to defaults",
			settings: Settings{EnableRelay: true, PollingInterval: -time.Second, BatchLimit: -1},
			expected: Settings{EnableRelay: true, PollingInterval: defaultPollingInterval, BatchLimit: defaultBatchLimit},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			validateSettings(&tc.settings)
			assert.Equal(t, tc.expected, tc.settings)
		})
	}
}
