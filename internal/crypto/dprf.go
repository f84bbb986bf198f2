package crypto

import (
	"fmt"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// DPRF is a distributed PRF. The master key is split into one share per
// party; each party evaluates PRF(share, x) and the XOR of all partial
// evaluations is the function value. Any proper subset of partials is
// indistinguishable from random.
type DPRF struct {
	master  []byte
	parties int
}

// NewDPRF creates a DPRF over master split between parties shares.
func NewDPRF(master []byte, parties int) (*DPRF, error) {
	if len(master) == 0 {
		return nil, errs.Errorf("NewDPRF", errs.ErrInvalidParameter, "empty master key")
	}
	if parties <= 0 {
		return nil, errs.Errorf("NewDPRF", errs.ErrInvalidParameter, "parties must be > 0, got %d", parties)
	}
	return &DPRF{
		master:  append([]byte(nil), master...),
		parties: parties,
	}, nil
}

// Parties returns the number of shares.
func (d *DPRF) Parties() int {
	return d.parties
}

// Share returns the share held by partyID.
func (d *DPRF) Share(partyID int) ([]byte, error) {
	if partyID < 0 || partyID >= d.parties {
		return nil, errs.Errorf("Share", errs.ErrInvalidParameter, "party %d out of range [0,%d)", partyID, d.parties)
	}
	return DeriveShare(d.master, partyID)
}

// Evaluate computes the function value on input by combining every party's
// partial evaluation. Shares are wiped after use.
func (d *DPRF) Evaluate(input ...[]byte) ([]byte, error) {
	partials := make([][]byte, 0, d.parties)
	for id := 0; id < d.parties; id++ {
		share, err := d.Share(id)
		if err != nil {
			return nil, err
		}
		partials = append(partials, PartialEvaluate(share, input...))
		Zeroize(share)
	}
	return Combine(partials...)
}

// DeriveShare derives the share of partyID from master.
func DeriveShare(master []byte, partyID int) ([]byte, error) {
	share, err := DeriveKey(master, fmt.Sprintf("dprf-share/%d", partyID), KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive share %d: %w", partyID, err)
	}
	return share, nil
}

// PartialEvaluate is one party's contribution on input.
func PartialEvaluate(share []byte, input ...[]byte) []byte {
	return PRF(share, input...)
}

// Combine XORs partial evaluations into the function value.
func Combine(partials ...[]byte) ([]byte, error) {
	if len(partials) == 0 {
		return nil, errs.Errorf("Combine", errs.ErrInvalidParameter, "no partial evaluations")
	}
	out := append([]byte(nil), partials[0]...)
	for _, p := range partials[1:] {
		var err error
		out, err = Xor(out, p)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
