package memory_test

import (
	"testing"

	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/store"
	"github.com/jensholdgaard/tradewatch/internal/store/memory"
	"github.com/jensholdgaard/tradewatch/internal/store/storetest"
)

func TestRepositories_Contract(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, clk clock.Clock) *store.Repositories {
		return memory.New(clk)
	})
}
