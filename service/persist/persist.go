package persist

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/ksuid"
)

// DBID represents a database ID
type DBID string

// Address represents the identity of a seller, buyer or registry
type Address string

// LastUpdatedTime represents the last time a record was updated
type LastUpdatedTime time.Time

// CreationTime represents the time a record was created
type CreationTime time.Time

// GenerateID generates a application-wide unique ID
func GenerateID() DBID {
	id, err := ksuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return DBID(id.String())
}

func (d DBID) String() string {
	return string(d)
}

// Value implements the driver.Valuer interface for the DBID type
func (d DBID) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements the sql.Scanner interface for the DBID type
func (d *DBID) Scan(src interface{}) error {
	if src == nil {
		*d = DBID("")
		return nil
	}
	*d = DBID(src.(string))
	return nil
}

// NewAddress returns a normalized address. Hex addresses are lowercased and trimmed to
// their last 20 bytes, anything else is kept as is after trimming whitespace.
func NewAddress(s string) Address {
	return Address(s).Normalize()
}

// Normalize returns the canonical form of the address
func (a Address) Normalize() Address {
	s := strings.TrimSpace(string(a))
	if !common.IsHexAddress(s) {
		return Address(s)
	}
	if n := normalizeAddress(strings.ToLower(s)); n != "" {
		return Address(n)
	}
	return Address(s)
}

func (a Address) String() string {
	return string(a.Normalize())
}

// IsZero returns whether the address is unset or the zero hex address
func (a Address) IsZero() bool {
	n := a.Normalize()
	return n == "" || n == ZeroAddress
}

// Equal compares two addresses after normalization
func (a Address) Equal(other Address) bool {
	return a.Normalize() == other.Normalize()
}

// Hex returns the address as an ethereum address. Non-hex identities yield the zero address.
func (a Address) Hex() common.Address {
	return common.HexToAddress(a.String())
}

// Value implements the driver.Valuer interface for addresses
func (a Address) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements the sql.Scanner interface for addresses
func (a *Address) Scan(src interface{}) error {
	if src == nil {
		*a = Address("")
		return nil
	}
	switch v := src.(type) {
	case string:
		*a = NewAddress(v)
	case []byte:
		*a = NewAddress(string(v))
	default:
		return fmt.Errorf("invalid address: %v", src)
	}
	return nil
}

// ZeroAddress is the null identity
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

func normalizeAddress(address string) string {
	withoutPrefix := strings.TrimPrefix(address, "0x")
	if len(withoutPrefix) < 40 {
		return ""
	}
	return "0x" + withoutPrefix[len(withoutPrefix)-40:]
}

// Value implements the driver.Valuer interface for the LastUpdatedTime type
func (l LastUpdatedTime) Value() (driver.Value, error) {
	return time.Now(), nil
}

// Scan implements the sql.Scanner interface for the LastUpdatedTime type
func (l *LastUpdatedTime) Scan(src interface{}) error {
	if src == nil {
		*l = LastUpdatedTime(time.Time{})
		return nil
	}
	*l = LastUpdatedTime(src.(time.Time))
	return nil
}

// Time returns the time.Time representation of the LastUpdatedTime type
func (l LastUpdatedTime) Time() time.Time {
	return time.Time(l)
}

// MarshalJSON returns the JSON representation of the LastUpdatedTime type
func (l LastUpdatedTime) MarshalJSON() ([]byte, error) {
	return time.Time(l).MarshalJSON()
}

// UnmarshalJSON parses the JSON representation of the LastUpdatedTime type
func (l *LastUpdatedTime) UnmarshalJSON(b []byte) error {
	var t time.Time
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	*l = LastUpdatedTime(t)
	return nil
}

// Value implements the driver.Valuer interface for the CreationTime type
func (c CreationTime) Value() (driver.Value, error) {
	return time.Time(c), nil
}

// Scan implements the sql.Scanner interface for the CreationTime type
func (c *CreationTime) Scan(src interface{}) error {
	if src == nil {
		*c = CreationTime(time.Time{})
		return nil
	}
	*c = CreationTime(src.(time.Time))
	return nil
}

// Time returns the time.Time representation of the CreationTime type
func (c CreationTime) Time() time.Time {
	return time.Time(c)
}

// MarshalJSON returns the JSON representation of the CreationTime type
func (c CreationTime) MarshalJSON() ([]byte, error) {
	return time.Time(c).MarshalJSON()
}

// UnmarshalJSON parses the JSON representation of the CreationTime type
func (c *CreationTime) UnmarshalJSON(b []byte) error {
	var t time.Time
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	*c = CreationTime(t)
	return nil
}
