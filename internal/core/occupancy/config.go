package occupancy

import (
	"strings"

	"stallwatch/internal/platform/config"
	perr "stallwatch/internal/platform/errors"
)

// Config tunes filtering and assignment
type Config struct {
	// Threshold is τ; a stall needs ratio > Threshold to win a box
	Threshold float64
	MinConf   float64
	// MinArea is the minimum box area in px²
	MinArea float64
	// FootprintTrim is the fraction cut from the top of each box
	FootprintTrim float64
	AmbiguityEps  float64
	// Classes is the accepted class id set; empty accepts every class
	Classes []int
}

// DefaultConfig is car, motorcycle, bus and truck at τ=0.4
func DefaultConfig() Config {
	return Config{
		Threshold:     0.4,
		MinConf:       0.2,
		MinArea:       800,
		FootprintTrim: 0.4,
		AmbiguityEps:  0.02,
		Classes:       []int{2, 3, 5, 7},
	}
}

// ConfigFrom reads DETECT_* overrides; DETECT_CLASSES=* accepts every class
func ConfigFrom(c config.Conf) Config {
	d := DefaultConfig()
	classes := c.MayInts("CLASSES", d.Classes)
	if strings.TrimSpace(c.MayString("CLASSES", "")) == "*" {
		classes = nil
	}
	return Config{
		Threshold:     c.MayFloat64("THRESHOLD", d.Threshold),
		MinConf:       c.MayFloat64("MIN_CONF", d.MinConf),
		MinArea:       c.MayFloat64("MIN_AREA", d.MinArea),
		FootprintTrim: c.MayFloat64("FOOTPRINT", d.FootprintTrim),
		AmbiguityEps:  c.MayFloat64("AMBIGUITY_EPS", d.AmbiguityEps),
		Classes:       classes,
	}
}

// Validate rejects out of range knobs
func (c Config) Validate() error {
	switch {
	case c.Threshold < 0 || c.Threshold >= 1:
		return perr.WithField(perr.Configf("threshold %v outside [0,1)", c.Threshold), "threshold")
	case c.MinConf < 0 || c.MinConf > 1:
		return perr.WithField(perr.Configf("min confidence %v outside [0,1]", c.MinConf), "min_conf")
	case c.MinArea < 0:
		return perr.WithField(perr.Configf("min area %v is negative", c.MinArea), "min_area")
	case c.FootprintTrim < 0 || c.FootprintTrim >= 1:
		return perr.WithField(perr.Configf("footprint trim %v outside [0,1)", c.FootprintTrim), "footprint")
	case c.AmbiguityEps < 0:
		return perr.WithField(perr.Configf("ambiguity eps %v is negative", c.AmbiguityEps), "ambiguity_eps")
	}
	return nil
}
