package tarpit

// Banner is the payload dribbled to every connected peer. It is sent a
// few bytes per tick to stretch one short string over many intervals.
const Banner = "bleep bloop\r\n"

// EasterEgg is an alternate payload sent in place of a banner chunk once
// every eastereggInterval completed banners.
const EasterEgg = "all your base are belong to us\r\n"

const (
	// chunkSize is how many banner bytes one tick writes.
	chunkSize = 4

	// eastereggInterval is the number of completed banners between
	// easter eggs.
	eastereggInterval = 128
)

// payloadCursor walks the banner one chunk per tick and schedules the
// occasional easter egg. Each session owns one cursor; it is not safe
// for concurrent use.
type payloadCursor struct {
	offset  int
	banners uint64
	eggDue  bool
}

// next returns the bytes to write on this tick and classifies them:
// banner reports that this chunk completed a full pass over the banner,
// egg that the payload is an easter egg rather than a chunk.
func (p *payloadCursor) next() (payload []byte, banner bool, egg bool) {
	if p.eggDue {
		p.eggDue = false
		return []byte(EasterEgg), false, true
	}

	end := p.offset + chunkSize
	if end > len(Banner) {
		end = len(Banner)
	}
	payload = []byte(Banner[p.offset:end])

	if end == len(Banner) {
		p.offset = 0
		p.banners++
		banner = true
		if p.banners%eastereggInterval == 0 {
			p.eggDue = true
		}
	} else {
		p.offset = end
	}
	return payload, banner, false
}
