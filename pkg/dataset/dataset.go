// Package dataset provides raw network-flow datasets for training and scoring.
package dataset

import (
	"math"
	"math/rand"
)

// Kind describes how a field is interpreted during feature encoding.
type Kind int

const (
	// Numeric fields are used as-is.
	Numeric Kind = iota
	// Categorical fields hold string values that must be encoded to codes.
	Categorical
)

// Field is one named slot of a raw record.
type Field struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Record is one raw observation keyed by field name.
// Values are float64 for numeric fields and string for categorical ones.
type Record map[string]any

// Dataset is a set of records with a positionally aligned label column.
type Dataset struct {
	Fields  []Field
	Records []Record
	Labels  []string
}

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.Records) }

var syntheticFields = []Field{
	{Name: "duration", Kind: Numeric},
	{Name: "protocol_type", Kind: Categorical},
	{Name: "service", Kind: Categorical},
	{Name: "flag", Kind: Categorical},
	{Name: "src_bytes", Kind: Numeric},
	{Name: "dst_bytes", Kind: Numeric},
	{Name: "land", Kind: Numeric},
	{Name: "wrong_fragment", Kind: Numeric},
	{Name: "urgent", Kind: Numeric},
	{Name: "num_failed_logins", Kind: Numeric},
	{Name: "logged_in", Kind: Numeric},
	{Name: "root_shell", Kind: Numeric},
	{Name: "su_attempted", Kind: Numeric},
	{Name: "count", Kind: Numeric},
	{Name: "srv_count", Kind: Numeric},
	{Name: "serror_rate", Kind: Numeric},
	{Name: "rerror_rate", Kind: Numeric},
	{Name: "dst_host_serror_rate", Kind: Numeric},
}

var (
	protocols = []string{"tcp", "udp", "icmp"}
	services  = []string{"http", "ftp", "smtp", "ssh"}
	flags     = []string{"SF", "S0", "REJ", "RSTR"}
)

// SyntheticFields returns the schema of the built-in generator.
func SyntheticFields() []Field {
	out := make([]Field, len(syntheticFields))
	copy(out, syntheticFields)
	return out
}

// Synthetic generates n labeled records of synthetic network traffic.
// Labels are assigned by fixed rules over the drawn values: failed logins
// above 3 or a root shell mark u2r, high error rates mark dos, a busy host
// with elevated destination errors marks probe, everything else is normal.
// The same seed always produces the same dataset.
func Synthetic(seed int64, n int) *Dataset {
	rng := rand.New(rand.NewSource(seed))

	ds := &Dataset{
		Fields:  SyntheticFields(),
		Records: make([]Record, 0, n),
		Labels:  make([]string, 0, n),
	}

	for i := 0; i < n; i++ {
		rec := Record{
			"duration":             exponential(rng, 2),
			"protocol_type":        protocols[rng.Intn(len(protocols))],
			"service":              services[rng.Intn(len(services))],
			"flag":                 flags[rng.Intn(len(flags))],
			"src_bytes":            exponential(rng, 1000),
			"dst_bytes":            exponential(rng, 1000),
			"land":                 bernoulli(rng, 0.05),
			"wrong_fragment":       poisson(rng, 0.1),
			"urgent":               poisson(rng, 0.01),
			"num_failed_logins":    poisson(rng, 0.1),
			"logged_in":            bernoulli(rng, 0.7),
			"root_shell":           bernoulli(rng, 0.05),
			"su_attempted":         bernoulli(rng, 0.02),
			"count":                poisson(rng, 10),
			"srv_count":            poisson(rng, 8),
			"serror_rate":          rng.Float64(),
			"rerror_rate":          rng.Float64(),
			"dst_host_serror_rate": rng.Float64(),
		}
		ds.Records = append(ds.Records, rec)
		ds.Labels = append(ds.Labels, labelFor(rec))
	}

	return ds
}

// labelFor applies the attack-type rules in priority order.
func labelFor(rec Record) string {
	switch {
	case rec["num_failed_logins"].(float64) > 3 || rec["root_shell"].(float64) == 1:
		return "u2r"
	case rec["serror_rate"].(float64) > 0.5 || rec["rerror_rate"].(float64) > 0.5:
		return "dos"
	case rec["dst_host_serror_rate"].(float64) > 0.3 && rec["count"].(float64) > 20:
		return "probe"
	default:
		return "normal"
	}
}

// exponential draws from an exponential distribution with the given mean.
func exponential(rng *rand.Rand, mean float64) float64 {
	return -mean * math.Log(1-rng.Float64())
}

// poisson draws a Poisson variate using Knuth's method. Fine for the small
// rates used here; not meant for large lambda.
func poisson(rng *rand.Rand, lambda float64) float64 {
	limit := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= limit {
			return float64(k)
		}
		k++
	}
}

func bernoulli(rng *rand.Rand, p float64) float64 {
	if rng.Float64() < p {
		return 1
	}
	return 0
}
