package policy

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// SIDName is a symbolic SID used by the token policy table.
type SIDName string

const (
	SIDBuiltinUsers       SIDName = "BUILTIN_USERS"
	SIDWorld              SIDName = "WORLD"
	SIDInteractive        SIDName = "INTERACTIVE"
	SIDAuthenticatedUsers SIDName = "AUTHENTICATED_USERS"
	SIDRestrictedCode     SIDName = "RESTRICTED_CODE"
	SIDNull               SIDName = "NULL"

	// Resolved from the source token rather than from a well-known value.
	SIDCurrentUser  SIDName = "CURRENT_USER"
	SIDLogonSession SIDName = "LOGON_SESSION"
)

var knownSIDNames = []SIDName{
	SIDBuiltinUsers,
	SIDWorld,
	SIDInteractive,
	SIDAuthenticatedUsers,
	SIDRestrictedCode,
	SIDNull,
	SIDCurrentUser,
	SIDLogonSession,
}

// TokenDerived reports whether the SID comes from the source token.
func (n SIDName) TokenDerived() bool {
	return n == SIDCurrentUser || n == SIDLogonSession
}

// Known reports whether n is a SID name the builder can resolve.
func (n SIDName) Known() bool {
	return slices.Contains(knownSIDNames, n)
}

// TokenPolicy is the recipe a token level resolves to.
type TokenPolicy struct {
	Level                TokenLevel `yaml:"-" json:"level"`
	SkipDeny             bool       `yaml:"skip_deny" json:"skip_deny"`
	SkipPrivilegeRemoval bool       `yaml:"skip_privilege_removal" json:"skip_privilege_removal"`
	RestrictAllSids      bool       `yaml:"restrict_all_sids" json:"restrict_all_sids"`
	DenyUser             bool       `yaml:"deny_user" json:"deny_user"`
	SidExceptions        []SIDName  `yaml:"sid_exceptions" json:"sid_exceptions,omitempty"`
	PrivilegeExceptions  []string   `yaml:"privilege_exceptions" json:"privilege_exceptions,omitempty"`
	RestrictingSids      []SIDName  `yaml:"restricting_sids" json:"restricting_sids,omitempty"`
}

// IsIdentity reports whether the policy leaves the token's SIDs and
// privileges untouched.
func (p TokenPolicy) IsIdentity() bool {
	return p.SkipDeny && p.SkipPrivilegeRemoval && !p.RestrictAllSids && !p.DenyUser && len(p.RestrictingSids) == 0
}

// TokenTable holds one TokenPolicy per TokenLevel.
type TokenTable struct {
	levels map[TokenLevel]TokenPolicy
}

type tokenTableFile struct {
	Levels map[string]TokenPolicy `yaml:"levels"`
}

//go:embed token_levels.yaml
var defaultTokenTableYAML []byte

var defaultTokenTable = sync.OnceValues(func() (*TokenTable, error) {
	return ParseTokenTable(defaultTokenTableYAML)
})

// DefaultTokenTable returns the table shipped with the module.
func DefaultTokenTable() (*TokenTable, error) {
	return defaultTokenTable()
}

// LoadTokenTable reads a table from path. An empty path returns the
// default table.
func LoadTokenTable(path string) (*TokenTable, error) {
	if path == "" {
		return DefaultTokenTable()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token policy file: %w", err)
	}

	table, err := ParseTokenTable(data)
	if err != nil {
		return nil, fmt.Errorf("invalid token policy file %s: %w", path, err)
	}
	return table, nil
}

// ParseTokenTable decodes a YAML token table and validates that every level
// is present and every SID name is resolvable.
func ParseTokenTable(data []byte) (*TokenTable, error) {
	var file tokenTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse token policy: %w", err)
	}

	table := &TokenTable{levels: make(map[TokenLevel]TokenPolicy, len(tokenLevelNames))}
	for name, p := range file.Levels {
		level, err := ParseTokenLevel(name)
		if err != nil {
			return nil, err
		}
		if err := validatePolicy(p); err != nil {
			return nil, fmt.Errorf("level %s: %w", level, err)
		}
		p.Level = level
		table.levels[level] = p
	}

	for _, level := range TokenLevels() {
		if _, ok := table.levels[level]; !ok {
			return nil, fmt.Errorf("token policy is missing level %s", level)
		}
	}

	return table, nil
}

func validatePolicy(p TokenPolicy) error {
	for _, sid := range p.SidExceptions {
		if !sid.Known() || sid.TokenDerived() {
			return BadArguments("invalid sid exception %q", sid)
		}
	}
	for _, sid := range p.RestrictingSids {
		if !sid.Known() {
			return BadArguments("invalid restricting sid %q", sid)
		}
	}
	for _, priv := range p.PrivilegeExceptions {
		if !strings.HasPrefix(priv, "Se") || !strings.HasSuffix(priv, "Privilege") {
			return BadArguments("invalid privilege name %q", priv)
		}
	}
	return nil
}

// Resolve returns the policy for level adjusted for platform.
func (t *TokenTable) Resolve(level TokenLevel, platform Platform) (TokenPolicy, error) {
	p, ok := t.levels[level]
	if !ok {
		return TokenPolicy{}, BadArguments("unknown token level %d", int(level))
	}

	// Copy slices so callers cannot mutate the table.
	p.SidExceptions = slices.Clone(p.SidExceptions)
	p.PrivilegeExceptions = slices.Clone(p.PrivilegeExceptions)
	p.RestrictingSids = slices.Clone(p.RestrictingSids)

	if !platform.RequiresLogonSessionSid() {
		p.RestrictingSids = slices.DeleteFunc(p.RestrictingSids, func(n SIDName) bool {
			return n == SIDLogonSession
		})
	}

	return p, nil
}
