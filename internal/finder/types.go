package finder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// ObjectType selects the namespaces a scan walks.
type ObjectType uint32

const (
	ObjectRegistry ObjectType = 1 << iota
	ObjectFileSystem
	ObjectKernel
)

// AllObjects selects every namespace.
const AllObjects = ObjectRegistry | ObjectFileSystem | ObjectKernel

// Tag returns the output category of a single object type.
func (o ObjectType) Tag() string {
	switch o {
	case ObjectRegistry:
		return "REG"
	case ObjectFileSystem:
		return "FILE"
	case ObjectKernel:
		return "KERNEL"
	default:
		return "UNKNOWN"
	}
}

func (o ObjectType) String() string {
	var names []string
	for _, t := range []ObjectType{ObjectRegistry, ObjectFileSystem, ObjectKernel} {
		if o&t != 0 {
			names = append(names, t.Tag())
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// ParseObjectTypes combines names such as "REG", "FILE" and "KERNEL" into a
// mask. Each name may itself be a comma separated list.
func ParseObjectTypes(names ...string) (ObjectType, error) {
	var mask ObjectType
	for _, name := range splitNames(names) {
		switch name {
		case "REG", "REGISTRY":
			mask |= ObjectRegistry
		case "FILE", "FS":
			mask |= ObjectFileSystem
		case "KERNEL":
			mask |= ObjectKernel
		default:
			return 0, policy.BadArguments("unknown object type %q", name)
		}
	}
	return mask, nil
}

// AccessType selects the access levels a check requests.
type AccessType uint32

const (
	AccessRead AccessType = 1 << iota
	AccessWrite
	AccessAll
)

// checkOrder lists access levels from the strongest to the weakest. A check
// stops at the first level that is granted.
var checkOrder = []AccessType{AccessAll, AccessWrite, AccessRead}

func (a AccessType) String() string {
	var names []string
	if a&AccessRead != 0 {
		names = append(names, "R")
	}
	if a&AccessWrite != 0 {
		names = append(names, "W")
	}
	if a&AccessAll != 0 {
		names = append(names, "ALL")
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// ParseAccessTypes combines names such as "R", "W" and "ALL" into a mask.
func ParseAccessTypes(names ...string) (AccessType, error) {
	var mask AccessType
	for _, name := range splitNames(names) {
		switch name {
		case "R", "READ":
			mask |= AccessRead
		case "W", "WRITE":
			mask |= AccessWrite
		case "ALL":
			mask |= AccessAll
		default:
			return 0, policy.BadArguments("unknown access type %q", name)
		}
	}
	return mask, nil
}

func splitNames(names []string) []string {
	var out []string
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Result is the outcome of checking one object.
type Result int

const (
	ResultDenied Result = iota
	ResultRead
	ResultWrite
	ResultAll
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultDenied:
		return "DENIED"
	case ResultRead:
		return "READ"
	case ResultWrite:
		return "WRITE"
	case ResultAll:
		return "ALL"
	case ResultError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func resultFor(a AccessType) Result {
	switch a {
	case AccessAll:
		return ResultAll
	case AccessWrite:
		return ResultWrite
	default:
		return ResultRead
	}
}

// Record is one checked object.
type Record struct {
	Category ObjectType
	Result   Result
	Path     string
	// Code is the OS error code when Result is ResultError.
	Code uint32
}

// Line formats r as a semicolon separated output line without a newline.
func (r Record) Line() string {
	if r.Result == ResultError {
		return fmt.Sprintf("%s-ERROR;0x%X;%s", r.Category.Tag(), r.Code, r.Path)
	}
	return fmt.Sprintf("%s;%s;%s", r.Category.Tag(), r.Result, r.Path)
}

// Stats counts check outcomes for one category.
type Stats struct {
	Attempted int `json:"attempted"`
	Broken    int `json:"broken"`
	Read      int `json:"read"`
	Write     int `json:"write"`
	All       int `json:"all"`
	Denied    int `json:"denied"`
}

func (s *Stats) add(r Result) {
	s.Attempted++
	switch r {
	case ResultRead:
		s.Read++
	case ResultWrite:
		s.Write++
	case ResultAll:
		s.All++
	case ResultDenied:
		s.Denied++
	case ResultError:
		s.Broken++
	}
}

// sortedCategories returns the keys of m in output order.
func sortedCategories(m map[ObjectType]Stats) []ObjectType {
	keys := make([]ObjectType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
