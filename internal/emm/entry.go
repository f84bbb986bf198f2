package emm

import (
	"encoding/binary"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// Entry plaintext, padded to a per-index size so every ciphertext of an
// index has the same length:
//
//	flag(1) | len(label)(4) | label | len(value)(4) | value | zero padding
//
// A dummy is all zeros.

const (
	flagDummy = 0
	flagReal  = 1

	entryOverhead = 1 + 4 + 4
)

func entrySize(mm Multimap) int {
	maxLabel, maxValue := 0, 0
	for l, vs := range mm {
		if len(l) > maxLabel {
			maxLabel = len(l)
		}
		for _, v := range vs {
			if len(v) > maxValue {
				maxValue = len(v)
			}
		}
	}
	return entryOverhead + maxLabel + maxValue
}

func encodeEntry(label Label, value []byte, size int) ([]byte, error) {
	need := entryOverhead + len(label) + len(value)
	if need > size {
		return nil, errs.Errorf("emm.encodeEntry", errs.ErrInvalidParameter, "entry of %d bytes exceeds size %d", need, size)
	}
	b := make([]byte, size)
	b[0] = flagReal
	binary.BigEndian.PutUint32(b[1:], uint32(len(label)))
	n := 5 + copy(b[5:], label)
	binary.BigEndian.PutUint32(b[n:], uint32(len(value)))
	copy(b[n+4:], value)
	return b, nil
}

func decodeEntry(b []byte) (label Label, value []byte, isReal bool, err error) {
	if len(b) < entryOverhead {
		return "", nil, false, errs.Errorf("emm.decodeEntry", errs.ErrInvalidParameter, "entry too short: %d bytes", len(b))
	}
	if b[0] == flagDummy {
		return "", nil, false, nil
	}
	ll := int(binary.BigEndian.Uint32(b[1:]))
	if 5+ll+4 > len(b) {
		return "", nil, false, errs.Errorf("emm.decodeEntry", errs.ErrInvalidParameter, "label length %d overruns entry", ll)
	}
	label = Label(b[5 : 5+ll])
	n := 5 + ll
	vl := int(binary.BigEndian.Uint32(b[n:]))
	if n+4+vl > len(b) {
		return "", nil, false, errs.Errorf("emm.decodeEntry", errs.ErrInvalidParameter, "value length %d overruns entry", vl)
	}
	value = append([]byte(nil), b[n+4:n+4+vl]...)
	return label, value, true, nil
}
