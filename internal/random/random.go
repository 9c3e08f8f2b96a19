// Package random generates test data for request bodies: numbers, strings,
// mainland China phone numbers and resident ID numbers, e-mail addresses,
// dates, and picks from caller-supplied slices.
//
// A Generator is safe for concurrent use. Seeded generators are
// deterministic, so a failing case can be replayed.
package random

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

var (
	// ErrInvalidArgument reports bounds or lengths that cannot produce a value.
	ErrInvalidArgument = errors.New("random: invalid argument")
	// ErrEmpty is returned when picking from an empty slice.
	ErrEmpty = errors.New("random: empty input")
)

// Character classes used by String.
const (
	Digits  = "0123456789"
	Upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Lower   = "abcdefghijklmnopqrstuvwxyz"
	Special = "!@#$%^&*"
)

// DateOnly is the default Date layout.
const DateOnly = "2006-01-02"

const (
	idArea    = "110105" // Chaoyang District, Beijing
	minAgeDay = 18 * 365
	maxAgeDay = 60 * 365
)

// mobilePrefixes are the three-digit carrier prefixes of mainland mobile numbers.
var mobilePrefixes = []string{
	"130", "131", "132", "133", "134", "135", "136", "137", "138", "139",
	"145", "147", "149", "150", "151", "152", "153", "155", "156", "157",
	"158", "159", "165", "166", "167", "170", "171", "172", "173", "174",
	"175", "176", "177", "178", "180", "181", "182", "183", "184", "185",
	"186", "187", "188", "189", "191", "198", "199",
}

// mailDomains back Email when no domain is given.
var mailDomains = []string{"qq.com", "163.com", "126.com", "gmail.com", "outlook.com", "hotmail.com"}

// ID number check digit weights and codes (GB 11643).
var (
	idWeights    = [17]int{7, 9, 10, 5, 8, 4, 2, 1, 6, 3, 7, 9, 10, 5, 8, 4, 2}
	idCheckCodes = [11]byte{'1', '0', 'X', '9', '8', '7', '6', '5', '4', '3', '2'}
)

// Generator produces random test values.
type Generator struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
	now   func() time.Time
}

// Option customizes a Generator.
type Option func(*Generator)

// WithSeed makes the generator deterministic.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.faker = gofakeit.New(seed) }
}

// WithClock sets the reference time for Date and IDCard.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New returns a Generator seeded from the operating system unless WithSeed is given.
func New(opts ...Option) *Generator {
	g := &Generator{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.faker == nil {
		// seed 0 draws a crypto-random seed
		g.faker = gofakeit.New(0)
	}
	return g
}

// intn returns a value in [min, max]. Callers hold g.mu.
func (g *Generator) intn(min, max int) int {
	return g.faker.IntRange(min, max)
}

// Int returns an integer in [min, max].
func (g *Generator) Int(min, max int) (int, error) {
	if min > max {
		return 0, fmt.Errorf("%w: min %d > max %d", ErrInvalidArgument, min, max)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intn(min, max), nil
}

// Float returns a value in [min, max] rounded to decimals places.
func (g *Generator) Float(min, max float64, decimals int) (float64, error) {
	if min > max || decimals < 0 {
		return 0, fmt.Errorf("%w: float range [%g, %g] with %d decimals", ErrInvalidArgument, min, max, decimals)
	}
	g.mu.Lock()
	v := g.faker.Float64Range(min, max)
	g.mu.Unlock()
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale, nil
}

// Charset selects the character classes String draws from.
type Charset struct {
	Digits  bool
	Upper   bool
	Lower   bool
	Special bool
}

// DefaultCharset is letters and digits.
var DefaultCharset = Charset{Digits: true, Upper: true, Lower: true}

func (c Charset) alphabet() string {
	var s string
	if c.Digits {
		s += Digits
	}
	if c.Upper {
		s += Upper
	}
	if c.Lower {
		s += Lower
	}
	if c.Special {
		s += Special
	}
	if s == "" {
		return Upper + Lower + Digits
	}
	return s
}

// String returns length characters drawn from cs. An empty charset falls
// back to letters and digits.
func (g *Generator) String(length int, cs Charset) (string, error) {
	if length < 0 {
		return "", fmt.Errorf("%w: length %d", ErrInvalidArgument, length)
	}
	alphabet := cs.alphabet()
	out := make([]byte, length)
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range out {
		out[i] = alphabet[g.intn(0, len(alphabet)-1)]
	}
	return string(out), nil
}

// Phone returns an 11-digit mainland mobile number such as 13800138000.
func (g *Generator) Phone() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.faker.RandomString(mobilePrefixes) + g.faker.Numerify("########")
}

// Email returns an address with an 8-character lowercase alphanumeric local
// part. An empty domain picks a common mail provider.
func (g *Generator) Email(domain string) string {
	const local = Lower + Digits
	g.mu.Lock()
	defer g.mu.Unlock()
	if domain == "" {
		domain = g.faker.RandomString(mailDomains)
	}
	b := make([]byte, 8)
	for i := range b {
		b[i] = local[g.intn(0, len(local)-1)]
	}
	return string(b) + "@" + domain
}

// IDCard returns an 18-character resident ID number for a holder aged 18 to
// 60, with a valid check character.
func (g *Generator) IDCard() string {
	g.mu.Lock()
	birth := g.now().AddDate(0, 0, -g.intn(minAgeDay, maxAgeDay))
	seq := g.faker.Numerify("##") + strconv.Itoa(g.intn(0, 2))
	g.mu.Unlock()

	body := idArea + birth.Format("20060102") + seq
	return body + string(IDCheckCode(body))
}

// IDCheckCode computes the check character for the first 17 digits of an ID
// number. It returns 0 when body is not 17 digits.
func IDCheckCode(body string) byte {
	if len(body) != len(idWeights) {
		return 0
	}
	total := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c < '0' || c > '9' {
			return 0
		}
		total += int(c-'0') * idWeights[i]
	}
	return idCheckCodes[total%11]
}

// Date returns a day in [start, end] formatted with layout. Empty end means
// today and empty start means thirty days before end. Layout defaults to DateOnly.
func (g *Generator) Date(start, end, layout string) (string, error) {
	if layout == "" {
		layout = DateOnly
	}
	var (
		to, from time.Time
		err      error
	)
	if end == "" {
		to = g.now()
	} else if to, err = time.Parse(layout, end); err != nil {
		return "", fmt.Errorf("%w: end date: %w", ErrInvalidArgument, err)
	}
	if start == "" {
		from = to.AddDate(0, 0, -30)
	} else if from, err = time.Parse(layout, start); err != nil {
		return "", fmt.Errorf("%w: start date: %w", ErrInvalidArgument, err)
	}
	if from.After(to) {
		return "", fmt.Errorf("%w: start %s after end %s", ErrInvalidArgument, start, end)
	}

	days := int(to.Sub(from) / (24 * time.Hour))
	g.mu.Lock()
	offset := g.intn(0, days)
	g.mu.Unlock()
	return from.AddDate(0, 0, offset).Format(layout), nil
}

// Choice returns one element of items.
func Choice[T any](g *Generator, items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, ErrEmpty
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return items[g.intn(0, len(items)-1)], nil
}

// Sample returns k distinct elements of items in random order. items is not modified.
func Sample[T any](g *Generator, items []T, k int) ([]T, error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	if k < 0 || k > len(items) {
		return nil, fmt.Errorf("%w: sample of %d from %d items", ErrInvalidArgument, k, len(items))
	}
	pool := append([]T(nil), items...)
	g.mu.Lock()
	defer g.mu.Unlock()
	// Partial Fisher-Yates: the first k slots end up as the sample
	for i := 0; i < k; i++ {
		j := g.intn(i, len(pool)-1)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k], nil
}

// Shuffle returns a shuffled copy of items.
func Shuffle[T any](g *Generator, items []T) []T {
	out := append([]T(nil), items...)
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(out) - 1; i > 0; i-- {
		j := g.intn(0, i)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
