package strategy

import (
	"fmt"
	"strings"
	"time"
)

// Status is a strategy's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

func (s Status) Validate() error {
	switch s {
	case StatusActive, StatusPaused, StatusArchived:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, string(s))
	}
}

// CanTransitionTo enforces the lifecycle rules: Active and Paused flip
// freely and both may archive; Archived is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusActive, StatusPaused:
		return next == StatusActive || next == StatusPaused || next == StatusArchived
	default:
		return false
	}
}

// maxAffiliateBps bounds the combined affiliate cut of one strategy.
const maxAffiliateBps = 250

// Affiliate is a fee-share recipient attached to a strategy at creation.
type Affiliate struct {
	Address string `json:"address"`
	Bps     uint64 `json:"bps"`
	Label   string `json:"label,omitempty"`
}

// ValidateAffiliates checks addresses and the combined basis-point bound.
func ValidateAffiliates(affiliates []Affiliate) error {
	total := uint64(0)
	for _, a := range affiliates {
		if strings.TrimSpace(a.Address) == "" {
			return fmt.Errorf("%w: affiliate requires an address", ErrInvalidAction)
		}
		if a.Bps == 0 {
			return fmt.Errorf("%w: affiliate bps must be positive", ErrInvalidAction)
		}
		total += a.Bps
	}
	if total > maxAffiliateBps {
		return fmt.Errorf("%w: combined affiliate bps %d exceeds %d", ErrInvalidAction, total, maxAffiliateBps)
	}
	return nil
}

// Strategy is the top-level aggregate: an owner's action tree plus its
// lifecycle status and accumulated statistics. The tree is exclusively owned
// by its strategy; nothing is shared between strategies.
type Strategy struct {
	ID         uint64      `json:"id"`
	Owner      string      `json:"owner"`
	Label      string      `json:"label,omitempty"`
	Contract   string      `json:"contract"`
	Status     Status      `json:"status"`
	Action     Action      `json:"action"`
	Affiliates []Affiliate `json:"affiliates,omitempty"`
	Statistics Statistics  `json:"statistics"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

func (s *Strategy) Validate() error {
	if strings.TrimSpace(s.Owner) == "" {
		return fmt.Errorf("%w: strategy requires an owner", ErrInvalidAction)
	}
	if err := s.Status.Validate(); err != nil {
		return err
	}
	if err := ValidateAffiliates(s.Affiliates); err != nil {
		return err
	}
	return s.Action.Validate()
}
