// Package shaper implements per-tenant command shaping: dead-zone suppression
// and publish-rate limiting over raw position samples.
//
// A Shaper owns the admission state for exactly one tenant. Samples are
// evaluated independently and never queued; a rejected sample is simply never
// admitted. Admitted samples become commands carrying a strictly increasing,
// gap-free per-tenant sequence number.
package shaper

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/config"
	"github.com/tracker-control/tcc/internal/topic"
)

// ErrInvalidSample is returned for malformed samples. The producer continues;
// the sample is dropped with a local diagnostic.
var ErrInvalidSample = errors.New("INVALID_SAMPLE")

// Sample is one raw position estimate from the perception collaborator.
// Confidence is optional and informational; zero means unreported.
type Sample struct {
	TenantID   string
	Value      float64
	Timestamp  time.Time
	Confidence float64
}

// Rejection classifies why a sample was not admitted.
type Rejection string

const (
	// RejectNone marks an admitted sample.
	RejectNone Rejection = ""
	// RejectDeadZone marks a sample within the dead zone of the last admitted
	// value, rejected regardless of elapsed time.
	RejectDeadZone Rejection = "dead_zone"
	// RejectRate marks a sample arriving before the minimum publish interval
	// has elapsed since the last admission.
	RejectRate Rejection = "rate"
)

// Config holds the shaping policy for one tenant.
type Config struct {
	// DeadZone is the minimum magnitude of change required before a new
	// command is admitted. Zero disables suppression.
	DeadZone float64
	// MinPublishInterval is the minimum time between admissions.
	MinPublishInterval time.Duration
}

// Validate enforces the policy value ranges.
func (c Config) Validate() error {
	if c.DeadZone < 0 || math.IsNaN(c.DeadZone) || math.IsInf(c.DeadZone, 0) {
		return fmt.Errorf("%w: dead zone must be a non-negative number, got %v", config.ErrInvalid, c.DeadZone)
	}
	if c.MinPublishInterval <= 0 {
		return fmt.Errorf("%w: min publish interval must be positive, got %v", config.ErrInvalid, c.MinPublishInterval)
	}
	return nil
}

// Shaper filters one tenant's sample stream into shaped commands.
//
// Shaper is a single-writer structure: callers must serialize Offer calls for
// the same tenant (the tracker pipeline runs one worker goroutine per tenant).
type Shaper struct {
	tenantID string
	cfg      Config
	now      func() time.Time

	admitted      bool
	lastValue     float64
	lastAdmission time.Time
	seq           uint64
}

// New creates a shaper for one tenant. It fails with config.ErrInvalid
// for bad policy values and with topic.ErrInvalidTenantID for bad tenants.
func New(tenantID string, cfg Config) (*Shaper, error) {
	if err := topic.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Shaper{
		tenantID: tenantID,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// TenantID returns the tenant this shaper is bound to.
func (s *Shaper) TenantID() string {
	return s.tenantID
}

// Seq returns the last issued sequence number.
func (s *Shaper) Seq() uint64 {
	return s.seq
}

// Offer evaluates one sample against the admission policy. It returns the
// shaped command when admitted, or a non-empty Rejection when suppressed.
// Malformed samples fail with ErrInvalidSample before reaching the policy.
//
// Policy order: dead-zone gate first, then rate gate. A sample that clears
// the dead zone but arrives too soon is dropped, not queued or coalesced.
func (s *Shaper) Offer(sample Sample) (*codec.Command, Rejection, error) {
	if err := s.validate(sample); err != nil {
		return nil, RejectNone, err
	}

	if s.admitted {
		if s.cfg.DeadZone > 0 && math.Abs(sample.Value-s.lastValue) <= s.cfg.DeadZone {
			return nil, RejectDeadZone, nil
		}
		if sample.Timestamp.Sub(s.lastAdmission) < s.cfg.MinPublishInterval {
			return nil, RejectRate, nil
		}
	}

	s.admitted = true
	s.lastValue = sample.Value
	s.lastAdmission = sample.Timestamp
	s.seq++

	return &codec.Command{
		TenantID:  s.tenantID,
		Value:     sample.Value,
		Timestamp: s.now().UTC(),
		Seq:       s.seq,
	}, RejectNone, nil
}

func (s *Shaper) validate(sample Sample) error {
	if sample.TenantID == "" {
		return fmt.Errorf("%w: missing tenant id", ErrInvalidSample)
	}
	if sample.TenantID != s.tenantID {
		return fmt.Errorf("%w: sample tenant %q does not match shaper tenant %q", ErrInvalidSample, sample.TenantID, s.tenantID)
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("%w: value %v is not a finite number", ErrInvalidSample, sample.Value)
	}
	if sample.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing capture timestamp", ErrInvalidSample)
	}
	return nil
}
