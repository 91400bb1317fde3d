package collab

import (
	"sync"
	"time"

	"github.com/mogwaid/mogwaid/internal/scanloop"
)

// offsetDriftThreshold is how far the wall clock may move relative to the
// monotonic reference between drift checks before SystemClock treats it as
// a step (NTP correction, suspend/resume) rather than ordinary elapsed
// time.
const offsetDriftThreshold = 2 * time.Second

// SystemClock is the production Clock: wall-time reads via time.Now,
// alarms via time.AfterFunc, and offset-change detection by periodically
// comparing elapsed wall time against elapsed monotonic time.
type SystemClock struct {
	mu     sync.Mutex
	nextID uint64
	timers map[AlarmID]*time.Timer

	onOffsetChanged func()

	stopCh   chan struct{}
	stopOnce sync.Once

	lastSample   time.Time // wall-clock reading at the last drift check
	scanInterval time.Duration
}

// NewSystemClock starts the background drift-detection loop at the given
// cadence. A non-positive minInterval or negative jitterRange falls back to
// scanloop's defaults. Stop must be called to release it.
func NewSystemClock(minInterval, jitterRange time.Duration) *SystemClock {
	if minInterval <= 0 {
		minInterval = scanloop.DefaultMinInterval
	}
	if jitterRange < 0 {
		jitterRange = scanloop.DefaultJitterRange
	}
	c := &SystemClock{
		timers:       make(map[AlarmID]*time.Timer),
		stopCh:       make(chan struct{}),
		lastSample:   time.Now(),
		scanInterval: minInterval,
	}
	go scanloop.Run(c.stopCh, minInterval, jitterRange, c.checkDrift)
	return c
}

// Stop halts the drift-detection loop and cancels all outstanding alarms.
func (c *SystemClock) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *SystemClock) checkDrift() {
	c.mu.Lock()
	last := c.lastSample
	now := time.Now()
	c.lastSample = now
	cb := c.onOffsetChanged
	c.mu.Unlock()

	// Round(0) strips the monotonic reading, so wallElapsed is pure wall
	// time while monoElapsed (both readings carry one) is pure monotonic.
	wallElapsed := now.Round(0).Sub(last.Round(0))
	monoElapsed := now.Sub(last)
	drift := wallElapsed - monoElapsed
	if drift < 0 {
		drift = -drift
	}
	if drift > offsetDriftThreshold && cb != nil {
		cb()
	}
}

func (c *SystemClock) NowLocal() time.Time {
	return time.Now()
}

func (c *SystemClock) AddAlarm(instant time.Time, callback func()) AlarmID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := AlarmID(c.nextID)
	delay := time.Until(instant)
	if delay < 0 {
		delay = 0
	}
	c.timers[id] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
		callback()
	})
	return id
}

func (c *SystemClock) RemoveAlarm(id AlarmID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *SystemClock) SetOnOffsetChanged(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOffsetChanged = fn
}
