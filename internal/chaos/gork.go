package chaos

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/mamori-ai/mamori/internal/model"
)

// GorkType tags one raw-payload corruption transform.
type GorkType string

const (
	GorkInvalidUTF8    GorkType = "invalid_utf8"
	GorkTruncation     GorkType = "truncation"
	GorkBinaryNoise    GorkType = "binary_noise"
	GorkNullInjection  GorkType = "null_injection"
	GorkDoubleEncoding GorkType = "double_encoding"
)

// gorkTransform garbles raw bytes and names the failures a correct consumer
// must raise when fed the result.
type gorkTransform struct {
	apply            func(data []byte, rate float64, rng *rand.Rand) []byte
	expectedFailures []string
}

var gorkRegistry = map[GorkType]gorkTransform{
	GorkInvalidUTF8: {
		apply: func(data []byte, rate float64, rng *rand.Rand) []byte {
			out := append([]byte(nil), data...)
			for i := range out {
				if rng.Float64() < rate {
					out[i] = 0xf8 | byte(rng.Intn(4)) // bytes never valid in UTF-8
				}
			}
			return out
		},
		expectedFailures: []string{"utf8_decode_error"},
	},
	GorkTruncation: {
		apply: func(data []byte, rate float64, rng *rand.Rand) []byte {
			if len(data) == 0 {
				return nil
			}
			keep := int(float64(len(data)) * (1 - rate))
			if keep >= len(data) {
				keep = len(data) - 1
			}
			if keep < 0 {
				keep = 0
			}
			_ = rng.Int63() // burn one draw so the stream stays aligned across kinds
			return append([]byte(nil), data[:keep]...)
		},
		expectedFailures: []string{"unexpected_eof", "parse_error"},
	},
	GorkBinaryNoise: {
		apply: func(data []byte, rate float64, rng *rand.Rand) []byte {
			out := append([]byte(nil), data...)
			for i := range out {
				if rng.Float64() < rate {
					out[i] = byte(rng.Intn(256))
				}
			}
			return out
		},
		expectedFailures: []string{"parse_error", "utf8_decode_error"},
	},
	GorkNullInjection: {
		apply: func(data []byte, rate float64, rng *rand.Rand) []byte {
			out := make([]byte, 0, len(data)+8)
			for _, b := range data {
				out = append(out, b)
				if rng.Float64() < rate {
					out = append(out, 0x00)
				}
			}
			return out
		},
		expectedFailures: []string{"null_byte_error", "parse_error"},
	},
	GorkDoubleEncoding: {
		apply: func(data []byte, rate float64, rng *rand.Rand) []byte {
			out := make([]byte, 0, len(data)*2)
			for _, b := range data {
				if b < 0x80 && rng.Float64() < rate {
					// Re-encode an ASCII byte as an overlong 2-byte sequence.
					out = append(out, 0xc0|b>>6, 0x80|b&0x3f)
					continue
				}
				out = append(out, b)
			}
			return out
		},
		expectedFailures: []string{"utf8_decode_error", "overlong_encoding"},
	},
}

// GorkTypes lists the registered gork kinds in stable order.
func GorkTypes() []GorkType {
	kinds := make([]GorkType, 0, len(gorkRegistry))
	for k := range gorkRegistry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// GorkGenerator corrupts raw text/byte payloads into gork: deliberately
// garbled data a robust consumer must reject cleanly.
type GorkGenerator struct {
	seed int64
}

// NewGorkGenerator creates a generator whose output is fully determined by
// seed, input and parameters.
func NewGorkGenerator(seed int64) *GorkGenerator {
	return &GorkGenerator{seed: seed}
}

// Generate applies the named corruption at the given rate. The input slice
// is never modified.
func (g *GorkGenerator) Generate(data []byte, kind GorkType, rate float64) (model.GorkResult, error) {
	if rate < 0 || rate > 1 {
		return model.GorkResult{}, fmt.Errorf("chaos: gork rate %g out of range [0,1]", rate)
	}
	transform, ok := gorkRegistry[kind]
	if !ok {
		return model.GorkResult{}, fmt.Errorf("chaos: unknown gork type %q", kind)
	}

	rng := rand.New(rand.NewSource(g.seed))
	garbled := transform.apply(data, rate, rng)

	return model.GorkResult{
		Original:         append([]byte(nil), data...),
		GorkData:         garbled,
		GorkType:         string(kind),
		CorruptionRate:   rate,
		ExpectedFailures: append([]string(nil), transform.expectedFailures...),
	}, nil
}
