package metrics

import (
	"math"
	"math/bits"
)

// histogramBuckets is the number of power-of-two duration buckets.
const histogramBuckets = 32

// aggregate accumulates statistics over a population of connections.
// Construct it with newAggregate: the minimum starts at MaxUint64 so the
// first observation always sets it.
type aggregate struct {
	maximumConnectionTime uint64
	minimumConnectionTime uint64
	connectionTimeTill    [histogramBuckets]uint64
	connectionTime        uint64
	sentChunksSum         uint64
	sentEasterEggsSum     uint64
	sentBannersSum        uint64
}

func newAggregate() aggregate {
	return aggregate{minimumConnectionTime: math.MaxUint64}
}

// bucketIndex maps a duration in seconds to its histogram bucket.
// Bucket i holds durations in [2^i-1, 2^(i+1)-2] seconds; everything from
// 2^31-1 seconds up lands in the last bucket. A zero duration has no set
// bit for the scan below to find and is pinned to bucket 0 explicitly.
func bucketIndex(seconds uint64) int {
	if seconds == 0 {
		return 0
	}
	if seconds >= 1<<31-1 {
		return histogramBuckets - 1
	}
	return bits.Len64(seconds+1) - 1
}

// observe folds one connection into the aggregate.
func (a *aggregate) observe(seconds, chunks, easterEggs, banners uint64) {
	a.maximumConnectionTime = max(a.maximumConnectionTime, seconds)
	a.minimumConnectionTime = min(a.minimumConnectionTime, seconds)
	a.connectionTimeTill[bucketIndex(seconds)]++
	a.connectionTime += seconds
	a.sentChunksSum += chunks
	a.sentEasterEggsSum += easterEggs
	a.sentBannersSum += banners
}

// combine merges two aggregates into a third, as used for the "total"
// population at export time.
func combine(a, b aggregate) aggregate {
	out := aggregate{
		maximumConnectionTime: max(a.maximumConnectionTime, b.maximumConnectionTime),
		minimumConnectionTime: min(a.minimumConnectionTime, b.minimumConnectionTime),
		connectionTime:        a.connectionTime + b.connectionTime,
		sentChunksSum:         a.sentChunksSum + b.sentChunksSum,
		sentEasterEggsSum:     a.sentEasterEggsSum + b.sentEasterEggsSum,
		sentBannersSum:        a.sentBannersSum + b.sentBannersSum,
	}
	for i := range out.connectionTimeTill {
		out.connectionTimeTill[i] = a.connectionTimeTill[i] + b.connectionTimeTill[i]
	}
	return out
}
