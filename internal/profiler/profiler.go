package profiler

import (
	"log"
	"runtime"
	"sync"
)

// DeviceTier is a coarse capability classification driving concurrency and
// cache-size decisions. Computed once at startup; device memory does not
// change at runtime, only the network does.
type DeviceTier int

const (
	TierLow DeviceTier = iota
	TierMid
	TierHigh
)

func (t DeviceTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMid:
		return "mid"
	default:
		return "high"
	}
}

// MaxConcurrentFetches is the device-level fetch parallelism for the tier.
func (t DeviceTier) MaxConcurrentFetches() int {
	switch t {
	case TierLow:
		return 1
	case TierMid:
		return 2
	default:
		return 3
	}
}

// PrefetchDistance is how many upcoming units the tier stages ahead.
func (t DeviceTier) PrefetchDistance() int {
	switch t {
	case TierLow:
		return 2
	case TierMid:
		return 4
	default:
		return 6
	}
}

// CacheByteBudget is the tier's prefetch cache ceiling.
func (t DeviceTier) CacheByteBudget() int64 {
	switch t {
	case TierLow:
		return 50 << 20 // 50MB
	case TierMid:
		return 100 << 20 // 100MB
	default:
		return 200 << 20 // 200MB
	}
}

// EffectiveType mirrors the network-information effective connection type.
type EffectiveType string

const (
	NetSlow2G EffectiveType = "slow-2g"
	Net2G     EffectiveType = "2g"
	Net3G     EffectiveType = "3g"
	Net4G     EffectiveType = "4g"
)

// NetworkInfo is the current connection sample. Mutable: re-sampled on
// every network-change event and on a coarse timer.
type NetworkInfo struct {
	EffectiveType    EffectiveType
	DownlinkMbps     float64
	RoundTripMs      int
	DataSaverEnabled bool
}

// EffectiveLimits is what one scheduling cycle is allowed to do. Derived
// fresh from (tier, network) at every decision point and never cached
// across a network change.
type EffectiveLimits struct {
	Concurrency      int
	PrefetchDistance int
	CacheByteBudget  int64
}

// Classify derives the device tier from static device signals.
// Thresholds: <=2GB or <=2 cores is Low; <=4GB or <=4 cores is Mid.
func Classify(memoryMB, cores int) DeviceTier {
	if memoryMB <= 2048 || cores <= 2 {
		return TierLow
	}
	if memoryMB <= 4096 || cores <= 4 {
		return TierMid
	}
	return TierHigh
}

// ClassifyRuntime classifies using the Go runtime's visible core count.
// memoryMB of 0 assumes a mid-size device; real deployments pass the
// platform-reported figure through config.
func ClassifyRuntime(memoryMB int) DeviceTier {
	if memoryMB == 0 {
		memoryMB = 4096
	}
	return Classify(memoryMB, runtime.NumCPU())
}

// DeriveEffectiveLimits folds network conditions into the device tier.
// Pure: call it fresh on every scheduling cycle.
//
// Data saver or a 2g-class connection forces the floor (1 fetch, distance
// 1) regardless of device tier; 3g caps concurrency at 2 and distance at
// 3; 4g passes the tier's values through unchanged.
func DeriveEffectiveLimits(tier DeviceTier, network NetworkInfo) EffectiveLimits {
	limits := EffectiveLimits{
		Concurrency:      tier.MaxConcurrentFetches(),
		PrefetchDistance: tier.PrefetchDistance(),
		CacheByteBudget:  tier.CacheByteBudget(),
	}

	if network.DataSaverEnabled || network.EffectiveType == NetSlow2G || network.EffectiveType == Net2G {
		limits.Concurrency = 1
		limits.PrefetchDistance = 1
		return limits
	}

	if network.EffectiveType == Net3G {
		if limits.Concurrency > 2 {
			limits.Concurrency = 2
		}
		if limits.PrefetchDistance > 3 {
			limits.PrefetchDistance = 3
		}
	}

	return limits
}

// NetworkProbe supplies fresh network samples. Platform integrations
// implement it against the OS connectivity API; tests script it.
type NetworkProbe interface {
	Sample() NetworkInfo
}

// StaticProbe always reports the same sample. Useful as a default when the
// platform offers no connectivity signal, and in tests.
type StaticProbe struct {
	Info NetworkInfo
}

func (p StaticProbe) Sample() NetworkInfo { return p.Info }

// Sampler holds the latest network sample and notifies a single listener
// channel when it changes. Resample never blocks: if the listener is slow
// the event is dropped and the next cycle reads Current directly.
type Sampler struct {
	probe NetworkProbe

	mu      sync.RWMutex
	current NetworkInfo

	changes chan NetworkInfo
}

func NewSampler(probe NetworkProbe) *Sampler {
	s := &Sampler{
		probe:   probe,
		changes: make(chan NetworkInfo, 1),
	}
	s.current = probe.Sample()
	return s
}

// Current returns the latest sample.
func (s *Sampler) Current() NetworkInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Changes delivers samples that differed from the previous one.
func (s *Sampler) Changes() <-chan NetworkInfo {
	return s.changes
}

// Resample takes a fresh sample. Called from the network-change
// notification hook and from a coarse timer.
func (s *Sampler) Resample() NetworkInfo {
	next := s.probe.Sample()

	s.mu.Lock()
	changed := next != s.current
	s.current = next
	s.mu.Unlock()

	if changed {
		log.Printf("[Profiler] network changed: %s (%.1f Mbps, rtt %dms, saver=%v)",
			next.EffectiveType, next.DownlinkMbps, next.RoundTripMs, next.DataSaverEnabled)
		select {
		case s.changes <- next:
		default:
		}
	}

	return next
}
