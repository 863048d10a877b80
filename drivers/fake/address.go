package fake

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/linkdata/homa"
	"github.com/pkg/errors"
)

// Address identifies a fake network interface by a small integer.
// Pointers are interned per Network and stable for its lifetime.
type Address struct {
	id uint64
}

// Id returns the interface number.
func (a *Address) Id() uint64 { return a.id }

func (a *Address) ToRaw() (raw homa.AddressRaw) {
	binary.BigEndian.PutUint64(raw[:8], a.id)
	return
}

func (a *Address) String() string {
	return fmt.Sprintf("fake:%d", a.id)
}

// parseAddress accepts "fake:N" or a bare decimal interface number.
func parseAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "fake:")
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "fake: bad address %q", s)
	}
	return id, nil
}
