package profiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		memoryMB int
		cores    int
		want     DeviceTier
	}{
		{"2GB phone", 2048, 4, TierLow},
		{"dual core", 8192, 2, TierLow},
		{"4GB mid", 4096, 4, TierMid},
		{"6GB but 4 cores", 6144, 4, TierMid},
		{"flagship", 8192, 8, TierHigh},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.memoryMB, c.cores))
		})
	}
}

func TestTierAttributes(t *testing.T) {
	assert.Equal(t, 1, TierLow.MaxConcurrentFetches())
	assert.Equal(t, 2, TierLow.PrefetchDistance())
	assert.Equal(t, int64(50<<20), TierLow.CacheByteBudget())

	assert.Equal(t, 3, TierHigh.MaxConcurrentFetches())
	assert.Equal(t, 6, TierHigh.PrefetchDistance())
	assert.Equal(t, int64(200<<20), TierHigh.CacheByteBudget())
}

func TestDeriveEffectiveLimits2GForcesFloor(t *testing.T) {
	// 2GB device on 2g must compute concurrency=1 distance=1 no matter
	// what the device defaults say.
	tier := Classify(2048, 4)
	limits := DeriveEffectiveLimits(tier, NetworkInfo{EffectiveType: Net2G})

	assert.Equal(t, 1, limits.Concurrency)
	assert.Equal(t, 1, limits.PrefetchDistance)

	// Even a high-tier device is floored on slow networks
	limits = DeriveEffectiveLimits(TierHigh, NetworkInfo{EffectiveType: NetSlow2G})
	assert.Equal(t, 1, limits.Concurrency)
	assert.Equal(t, 1, limits.PrefetchDistance)
}

func TestDeriveEffectiveLimitsDataSaver(t *testing.T) {
	limits := DeriveEffectiveLimits(TierHigh, NetworkInfo{EffectiveType: Net4G, DataSaverEnabled: true})
	assert.Equal(t, 1, limits.Concurrency)
	assert.Equal(t, 1, limits.PrefetchDistance)
}

func TestDeriveEffectiveLimits3GCaps(t *testing.T) {
	limits := DeriveEffectiveLimits(TierHigh, NetworkInfo{EffectiveType: Net3G})
	assert.Equal(t, 2, limits.Concurrency)
	assert.Equal(t, 3, limits.PrefetchDistance)

	// A low tier is already under the 3g caps and is left alone
	limits = DeriveEffectiveLimits(TierLow, NetworkInfo{EffectiveType: Net3G})
	assert.Equal(t, 1, limits.Concurrency)
	assert.Equal(t, 2, limits.PrefetchDistance)
}

func TestDeriveEffectiveLimits4GUsesTier(t *testing.T) {
	limits := DeriveEffectiveLimits(TierMid, NetworkInfo{EffectiveType: Net4G})
	assert.Equal(t, 2, limits.Concurrency)
	assert.Equal(t, 4, limits.PrefetchDistance)
	assert.Equal(t, int64(100<<20), limits.CacheByteBudget)
}

type flipProbe struct {
	samples []NetworkInfo
	i       int
}

func (p *flipProbe) Sample() NetworkInfo {
	s := p.samples[p.i]
	if p.i < len(p.samples)-1 {
		p.i++
	}
	return s
}

func TestSamplerEmitsOnlyOnChange(t *testing.T) {
	probe := &flipProbe{samples: []NetworkInfo{
		{EffectiveType: Net4G},
		{EffectiveType: Net4G},
		{EffectiveType: Net3G},
	}}

	s := NewSampler(probe)
	require.Equal(t, Net4G, s.Current().EffectiveType)

	s.Resample() // identical sample, no event
	select {
	case <-s.Changes():
		t.Fatal("unchanged sample should not emit an event")
	default:
	}

	s.Resample() // 4g -> 3g
	select {
	case info := <-s.Changes():
		assert.Equal(t, Net3G, info.EffectiveType)
	default:
		t.Fatal("expected a change event")
	}

	assert.Equal(t, Net3G, s.Current().EffectiveType)
}
