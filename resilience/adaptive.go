package resilience

import (
	"context"
	"sync"
	"time"
)

// AdaptiveStrategy names a concurrency adjustment magnitude rule.
type AdaptiveStrategy int

const (
	// AIMD halves the cap on decrease, adds 1 on increase.
	AIMD AdaptiveStrategy = iota
	// Aggressive halves the cap on decrease, adds max(1, c/10) on increase.
	Aggressive
	// Gradual multiplies the cap by 3/4 on decrease, adds 1 on increase.
	Gradual
)

// AdaptiveControllerConfig configures the adaptive concurrency controller.
type AdaptiveControllerConfig struct {
	// MinConcurrency and MaxConcurrency bound the semaphore's capacity.
	MinConcurrency int64
	MaxConcurrency int64

	// InitialConcurrency is the starting capacity of the owned semaphore.
	InitialConcurrency int64

	// SampleInterval is how often the controller evaluates its window
	// and potentially resizes the semaphore.
	// Default: 1 second
	SampleInterval time.Duration

	// MinSuccessRate is the success-rate floor below which the
	// controller decreases capacity.
	// Default: 0.9
	MinSuccessRate float64

	// TargetLatency, if set, triggers a decrease whenever the window's
	// average latency exceeds it (even if the success rate is fine).
	TargetLatency time.Duration

	// Strategy selects the magnitude rule applied on each adjustment.
	Strategy AdaptiveStrategy

	// OnChange is called, outside any lock, whenever the cap changes.
	OnChange func(old, new int64)

	// Clock is stored with the config (Default: time.Now) but is not read:
	// the sampler runs on a real time.Ticker every SampleInterval.
	Clock func() time.Time
}

// AdaptiveController owns a Semaphore and periodically resizes it based on
// observed outcomes, per the decrease/increase/magnitude rules:
//
//	decrease if success_rate < MinSuccessRate, or avg_latency > TargetLatency
//	increase if success_rate >= MinSuccessRate
//
//	AIMD        decrease max(min, c/2)        increase min(max, c+1)
//	Aggressive  decrease max(min, c/2)        increase min(max, c+max(1,c/10))
//	Gradual     decrease max(min, c*3/4)      increase min(max, c+1)
type AdaptiveController struct {
	config AdaptiveControllerConfig
	sem    *Semaphore

	mu         sync.Mutex
	cap        int64
	successes  int64
	failures   int64
	latencySum time.Duration
	latencyN   int64

	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// NewAdaptiveController creates a controller and its owned Semaphore,
// starting the periodic sampler goroutine.
func NewAdaptiveController(config AdaptiveControllerConfig) *AdaptiveController {
	if config.MinConcurrency < 1 {
		config.MinConcurrency = 1
	}
	if config.MaxConcurrency < config.MinConcurrency {
		config.MaxConcurrency = config.MinConcurrency
	}
	if config.InitialConcurrency < config.MinConcurrency {
		config.InitialConcurrency = config.MinConcurrency
	}
	if config.InitialConcurrency > config.MaxConcurrency {
		config.InitialConcurrency = config.MaxConcurrency
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = time.Second
	}
	if config.MinSuccessRate <= 0 {
		config.MinSuccessRate = 0.9
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	ac := &AdaptiveController{
		config: config,
		sem:    NewSemaphore(config.InitialConcurrency),
		cap:    config.InitialConcurrency,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go ac.sampleLoop()
	return ac
}

// Semaphore returns the semaphore the controller resizes. Callers acquire
// and release capacity through it directly.
func (ac *AdaptiveController) Semaphore() *Semaphore {
	return ac.sem
}

// Observe records one completed attempt's outcome and latency, folding it
// into the current sampling window.
func (ac *AdaptiveController) Observe(success bool, latency time.Duration) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if success {
		ac.successes++
	} else {
		ac.failures++
	}
	ac.latencySum += latency
	ac.latencyN++
}

// Stop halts the sampler and closes the owned semaphore.
func (ac *AdaptiveController) Stop() {
	ac.mu.Lock()
	if ac.closed {
		ac.mu.Unlock()
		return
	}
	ac.closed = true
	ac.mu.Unlock()

	close(ac.stop)
	<-ac.done
	ac.sem.Close()
}

func (ac *AdaptiveController) sampleLoop() {
	defer close(ac.done)
	ticker := time.NewTicker(ac.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ac.stop:
			return
		case <-ticker.C:
			ac.sample()
		}
	}
}

func (ac *AdaptiveController) sample() {
	ac.mu.Lock()
	successes, failures := ac.successes, ac.failures
	latencySum, latencyN := ac.latencySum, ac.latencyN
	ac.successes, ac.failures = 0, 0
	ac.latencySum, ac.latencyN = 0, 0
	current := ac.cap
	ac.mu.Unlock()

	total := successes + failures
	if total == 0 {
		return
	}

	successRate := float64(successes) / float64(total)
	var avgLatency time.Duration
	if latencyN > 0 {
		avgLatency = latencySum / time.Duration(latencyN)
	}

	decrease := successRate < ac.config.MinSuccessRate ||
		(ac.config.TargetLatency > 0 && avgLatency > ac.config.TargetLatency)

	var next int64
	switch {
	case decrease:
		next = ac.decreaseAmount(current)
	default:
		next = ac.increaseAmount(current)
	}

	if next == current {
		return
	}

	ac.mu.Lock()
	ac.cap = next
	ac.mu.Unlock()

	ac.sem.Resize(context.Background(), next)

	if ac.config.OnChange != nil {
		go func(old, newCap int64) {
			defer func() { _ = recover() }()
			ac.config.OnChange(old, newCap)
		}(current, next)
	}
}

func (ac *AdaptiveController) decreaseAmount(c int64) int64 {
	var next int64
	switch ac.config.Strategy {
	case Gradual:
		next = c * 3 / 4
	default: // AIMD, Aggressive
		next = c / 2
	}
	if next < ac.config.MinConcurrency {
		next = ac.config.MinConcurrency
	}
	return next
}

func (ac *AdaptiveController) increaseAmount(c int64) int64 {
	var next int64
	switch ac.config.Strategy {
	case Aggressive:
		step := c / 10
		if step < 1 {
			step = 1
		}
		next = c + step
	default: // AIMD, Gradual
		next = c + 1
	}
	if next > ac.config.MaxConcurrency {
		next = ac.config.MaxConcurrency
	}
	return next
}

// Cap returns the controller's current capacity.
func (ac *AdaptiveController) Cap() int64 {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.cap
}
