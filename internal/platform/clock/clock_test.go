package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReal_NewTicker(t *testing.T) {
	ticker := Real{}.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestManual_Tick_fires_live_tickers(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewManual(start)
	a := c.NewTicker(350 * time.Millisecond)
	b := c.NewTicker(time.Second)

	assert.Equal(t, 2, c.Tick())
	assert.Equal(t, start.Add(350*time.Millisecond), <-a.C())
	<-b.C()

	b.Stop()
	assert.Equal(t, 1, c.Active())
	assert.Equal(t, 1, c.Tick())
	select {
	case <-b.C():
		t.Error("stopped ticker fired")
	default:
	}
}

func TestManual_Tick_does_not_block_on_pending(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	c.Tick()
	c.Tick()
	assert.Len(t, tk.C(), 1)
}
