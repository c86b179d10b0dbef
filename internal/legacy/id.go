// Package legacy maps the old PHP-era database onto the current schema.
//
// Legacy rows are keyed by 32-bit integers per table. Encode turns a
// (table, id) pair into a deterministic version-8 UUID so foreign keys
// survive the import; Decode reverses it. Neither is used on the request path.
package legacy

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

// ErrFormat is returned by Decode for UUIDs that were not produced by Encode.
var ErrFormat = errors.New("not a legacy identifier")

// Table tags the legacy table an id came from.
type Table uint8

const (
	University Table = iota
	Course
	Prof
	Upload
	File
	User
	Email
)

var tableNames = [...]string{"university", "course", "prof", "upload", "file", "user", "email"}

func (t Table) valid() bool { return int(t) < len(tableNames) }

func (t Table) String() string {
	if !t.valid() {
		return fmt.Sprintf("table(%d)", uint8(t))
	}
	return tableNames[t]
}

// Byte layout of an encoded identifier.
const (
	tableOffset = 5
	idOffset    = 12

	versionByte = 6
	variantByte = 8
	version8    = 0x80 // high nibble 8, low nibble zero
	variantRFC  = 0x80 // 10xx xxxx, rest zero
)

// Encode builds the identifier for a legacy row.
func Encode(table Table, id uint32) (uuid.UUID, error) {
	if !table.valid() {
		return uuid.Nil, fmt.Errorf("encoding legacy id: unknown %s", table)
	}
	var u uuid.UUID
	u[versionByte] = version8
	u[variantByte] = variantRFC
	u[tableOffset] = byte(table)
	binary.BigEndian.PutUint32(u[idOffset:], id)
	return u, nil
}

// Decode recovers the legacy table and id from an identifier built by Encode.
func Decode(u uuid.UUID) (Table, uint32, error) {
	if u[versionByte] != version8 {
		return 0, 0, fmt.Errorf("%w: version byte %#02x", ErrFormat, u[versionByte])
	}
	if u[variantByte] != variantRFC {
		return 0, 0, fmt.Errorf("%w: variant byte %#02x", ErrFormat, u[variantByte])
	}
	t := Table(u[tableOffset])
	if !t.valid() {
		return 0, 0, fmt.Errorf("%w: unknown %s", ErrFormat, t)
	}
	for i := 0; i < idOffset; i++ {
		switch i {
		case tableOffset, versionByte, variantByte:
			continue
		}
		if u[i] != 0 {
			return 0, 0, fmt.Errorf("%w: byte %d is %#02x", ErrFormat, i, u[i])
		}
	}
	return t, binary.BigEndian.Uint32(u[idOffset:]), nil
}
