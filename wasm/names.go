package wasm

import (
	"fmt"

	"github.com/wippyai/wasm2ir/internal/binary"
)

// nameSubFunction is the function-names subsection id.
const nameSubFunction byte = 1

// readNameSection reads the function-name subsection of a "name" custom
// section ending at end. Other subsections are skipped.
func readNameSection(r *binary.Reader, end int) (map[uint32]string, error) {
	names := make(map[uint32]string)
	for r.Position() < end {
		id, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		subEnd := r.Position() + int(size)
		if subEnd > end {
			return nil, fmt.Errorf("name subsection %d overruns section by %d bytes", id, subEnd-end)
		}

		if id != nameSubFunction {
			if err := r.Skip(int(size)); err != nil {
				return nil, err
			}
			continue
		}

		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			if r.Position() >= subEnd {
				return nil, fmt.Errorf("function names truncated after %d of %d entries", i, count)
			}
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			name, err := r.ReadName()
			if err != nil {
				return nil, err
			}
			names[idx] = name
		}
		if r.Position() != subEnd {
			return nil, fmt.Errorf("function names end at 0x%x, declared 0x%x", r.Position(), subEnd)
		}
	}
	if r.Position() != end {
		return nil, fmt.Errorf("name section ends at 0x%x, declared 0x%x", r.Position(), end)
	}
	return names, nil
}
