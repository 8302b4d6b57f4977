//go:build windows

package sandbox

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/security-mcp/winsandbox/internal/policy"
)

var wellKnownSIDs = map[policy.SIDName]windows.WELL_KNOWN_SID_TYPE{
	policy.SIDBuiltinUsers:       windows.WinBuiltinUsersSid,
	policy.SIDWorld:              windows.WinWorldSid,
	policy.SIDInteractive:        windows.WinInteractiveSid,
	policy.SIDAuthenticatedUsers: windows.WinAuthenticatedUserSid,
	policy.SIDRestrictedCode:     windows.WinRestrictedCodeSid,
	policy.SIDNull:               windows.WinNullSid,
}

// Token owns a Windows access token handle.
type Token struct {
	handle windows.Token
	typ    policy.TokenType
}

// Handle returns the raw token handle. The Token keeps ownership.
func (t *Token) Handle() windows.Token {
	if t == nil {
		return 0
	}
	return t.handle
}

// Type reports whether the token is primary or an impersonation token.
func (t *Token) Type() policy.TokenType {
	return t.typ
}

// Detach releases ownership of the handle to the caller.
func (t *Token) Detach() windows.Token {
	if t == nil {
		return 0
	}
	h := t.handle
	t.handle = 0
	return h
}

// Close releases the handle. It is safe to call more than once.
func (t *Token) Close() error {
	if t == nil || t.handle == 0 {
		return nil
	}
	err := t.handle.Close()
	t.handle = 0
	return err
}

// Impersonate sets the token on the calling goroutine's OS thread. The
// goroutine stays locked to the thread until revert is called. If the
// revert fails the thread stays locked so the runtime discards it when the
// goroutine exits.
func (t *Token) Impersonate() (revert func() error, err error) {
	if t == nil || t.handle == 0 {
		return nil, policy.ErrNoData
	}
	if t.typ != policy.TokenImpersonation {
		return nil, policy.BadArguments("cannot impersonate a %s token", t.typ)
	}

	runtime.LockOSThread()
	if err := windows.SetThreadToken(nil, t.handle); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("failed to impersonate token: %w", err)
	}

	return func() error {
		if err := windows.RevertToSelf(); err != nil {
			return fmt.Errorf("failed to revert impersonation: %w", err)
		}
		runtime.UnlockOSThread()
		return nil
	}, nil
}

// GroupSIDs lists the SID strings of the token's groups.
func (t *Token) GroupSIDs() ([]string, error) {
	return tokenGroupSIDs(t.handle, windows.TokenGroups)
}

// RestrictingSIDs lists the SID strings of the token's restricting list.
func (t *Token) RestrictingSIDs() ([]string, error) {
	return tokenGroupSIDs(t.handle, windows.TokenRestrictedSids)
}

// Privileges lists the LUIDs of the privileges present on the token.
func (t *Token) Privileges() ([]windows.LUID, error) {
	privs, err := tokenPrivileges(t.handle)
	if err != nil {
		return nil, err
	}
	luids := make([]windows.LUID, 0, len(privs))
	for _, p := range privs {
		luids = append(luids, p.Luid)
	}
	return luids, nil
}

// TokenBuilder derives restricted tokens from a source token.
type TokenBuilder struct {
	Platform policy.Platform
	Table    *policy.TokenTable
	Logger   *slog.Logger
}

// NewTokenBuilder creates a builder for platform using table.
func NewTokenBuilder(platform policy.Platform, table *policy.TokenTable) *TokenBuilder {
	return &TokenBuilder{
		Platform: platform,
		Table:    table,
		Logger:   slog.Default(),
	}
}

// Build derives a restricted token from source at the given level. A zero
// source uses the current process token. integrity is applied when it is
// not IntegrityLast and the platform supports labels. The source token is
// never modified.
func (b *TokenBuilder) Build(source windows.Token, level policy.TokenLevel, integrity policy.IntegrityLevel, typ policy.TokenType) (*Token, error) {
	if !typ.Valid() {
		return nil, policy.BadArguments("unknown token type %d", int(typ))
	}
	if b.Table == nil {
		return nil, policy.BadArguments("token table is required")
	}
	p, err := b.Table.Resolve(level, b.Platform)
	if err != nil {
		return nil, err
	}

	if source == 0 {
		err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ALL_ACCESS, &source)
		if err != nil {
			return nil, fmt.Errorf("failed to open process token: %w", err)
		}
		defer source.Close()
	}

	var effective windows.Token
	err = windows.DuplicateTokenEx(source, windows.TOKEN_ALL_ACCESS, nil, windows.SecurityImpersonation, windows.TokenPrimary, &effective)
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate token: %w", err)
	}
	defer effective.Close()

	restricted, err := b.restrict(effective, p)
	if err != nil {
		return nil, err
	}

	if integrity != policy.IntegrityLast && b.Platform.SupportsIntegrityLevels() {
		if err := SetTokenIntegrityLevel(restricted, integrity); err != nil {
			restricted.Close()
			return nil, err
		}
	}

	b.logger().Debug("restricted token built",
		slog.String("level", level.String()),
		slog.String("integrity", integrity.String()),
		slog.String("type", typ.String()),
	)

	if typ == policy.TokenPrimary {
		return &Token{handle: restricted, typ: typ}, nil
	}

	var impersonation windows.Token
	err = windows.DuplicateTokenEx(restricted, windows.TOKEN_ALL_ACCESS, nil, windows.SecurityImpersonation, windows.TokenImpersonation, &impersonation)
	restricted.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create impersonation token: %w", err)
	}
	return &Token{handle: impersonation, typ: typ}, nil
}

// restrict applies the deny-only, privilege and restricting lists of p to a
// copy of effective.
func (b *TokenBuilder) restrict(effective windows.Token, p policy.TokenPolicy) (windows.Token, error) {
	groups, err := effective.GetTokenGroups()
	if err != nil {
		return 0, fmt.Errorf("failed to query token groups: %w", err)
	}
	user, err := effective.GetTokenUser()
	if err != nil {
		return 0, fmt.Errorf("failed to query token user: %w", err)
	}
	all := groups.AllGroups()

	var deny []windows.SIDAndAttributes
	if !p.SkipDeny {
		exceptions, err := resolveWellKnown(p.SidExceptions)
		if err != nil {
			return 0, err
		}
		for _, g := range all {
			if g.Attributes&windows.SE_GROUP_INTEGRITY != 0 || isLogonSID(g) {
				continue
			}
			if slices.ContainsFunc(exceptions, g.Sid.Equals) {
				continue
			}
			deny = append(deny, windows.SIDAndAttributes{Sid: g.Sid})
		}
	}
	if p.DenyUser {
		deny = append(deny, windows.SIDAndAttributes{Sid: user.User.Sid})
	}

	var drop []windows.LUIDAndAttributes
	if !p.SkipPrivilegeRemoval {
		keep, err := lookupPrivileges(p.PrivilegeExceptions)
		if err != nil {
			return 0, err
		}
		privs, err := tokenPrivileges(effective)
		if err != nil {
			return 0, err
		}
		for _, priv := range privs {
			if !slices.Contains(keep, priv.Luid) {
				drop = append(drop, windows.LUIDAndAttributes{Luid: priv.Luid})
			}
		}
	}

	var restrict []windows.SIDAndAttributes
	if p.RestrictAllSids {
		for _, g := range all {
			if g.Attributes&windows.SE_GROUP_INTEGRITY != 0 {
				continue
			}
			restrict = append(restrict, windows.SIDAndAttributes{Sid: g.Sid})
		}
		restrict = append(restrict, windows.SIDAndAttributes{Sid: user.User.Sid})
	}
	for _, name := range p.RestrictingSids {
		switch name {
		case policy.SIDCurrentUser:
			restrict = append(restrict, windows.SIDAndAttributes{Sid: user.User.Sid})
		case policy.SIDLogonSession:
			idx := slices.IndexFunc(all, isLogonSID)
			if idx < 0 {
				return 0, fmt.Errorf("token has no logon session SID: %w", windows.ERROR_NOT_FOUND)
			}
			restrict = append(restrict, windows.SIDAndAttributes{Sid: all[idx].Sid})
		default:
			sids, err := resolveWellKnown([]policy.SIDName{name})
			if err != nil {
				return 0, err
			}
			restrict = append(restrict, windows.SIDAndAttributes{Sid: sids[0]})
		}
	}

	token, err := createRestrictedToken(effective, 0, deny, drop, restrict)
	// The SID pointers above reference the group and user buffers.
	runtime.KeepAlive(groups)
	runtime.KeepAlive(user)
	if err != nil {
		return 0, fmt.Errorf("CreateRestrictedToken failed: %w", err)
	}

	b.logger().Debug("token restrictions applied",
		slog.Int("deny_only", len(deny)),
		slog.Int("privileges_removed", len(drop)),
		slog.Int("restricting", len(restrict)),
	)
	return token, nil
}

func (b *TokenBuilder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func isLogonSID(g windows.SIDAndAttributes) bool {
	return g.Attributes&windows.SE_GROUP_LOGON_ID == windows.SE_GROUP_LOGON_ID
}

func resolveWellKnown(names []policy.SIDName) ([]*windows.SID, error) {
	sids := make([]*windows.SID, 0, len(names))
	for _, name := range names {
		kind, ok := wellKnownSIDs[name]
		if !ok {
			return nil, policy.BadArguments("%s is not a well-known SID", name)
		}
		sid, err := windows.CreateWellKnownSid(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to create SID %s: %w", name, err)
		}
		sids = append(sids, sid)
	}
	return sids, nil
}

func lookupPrivileges(names []string) ([]windows.LUID, error) {
	luids := make([]windows.LUID, 0, len(names))
	for _, name := range names {
		namePtr, err := windows.UTF16PtrFromString(name)
		if err != nil {
			return nil, err
		}
		var luid windows.LUID
		if err := windows.LookupPrivilegeValue(nil, namePtr, &luid); err != nil {
			return nil, fmt.Errorf("failed to look up privilege %s: %w", name, err)
		}
		luids = append(luids, luid)
	}
	return luids, nil
}

// tokenInformation queries a variable-length token information class.
func tokenInformation(token windows.Token, class uint32) ([]byte, error) {
	n := uint32(256)
	for {
		buf := make([]byte, n)
		err := windows.GetTokenInformation(token, class, &buf[0], uint32(len(buf)), &n)
		if err == nil {
			return buf[:n], nil
		}
		if err != windows.ERROR_INSUFFICIENT_BUFFER {
			return nil, err
		}
		if n <= uint32(len(buf)) {
			return nil, err
		}
	}
}

func tokenPrivileges(token windows.Token) ([]windows.LUIDAndAttributes, error) {
	buf, err := tokenInformation(token, windows.TokenPrivileges)
	if err != nil {
		return nil, fmt.Errorf("failed to query token privileges: %w", err)
	}
	privs := (*windows.Tokenprivileges)(unsafe.Pointer(&buf[0])).AllPrivileges()
	return slices.Clone(privs), nil
}

func tokenGroupSIDs(token windows.Token, class uint32) ([]string, error) {
	if token == 0 {
		return nil, policy.ErrNoData
	}
	buf, err := tokenInformation(token, class)
	if err != nil {
		return nil, fmt.Errorf("failed to query token groups: %w", err)
	}
	groups := (*windows.Tokengroups)(unsafe.Pointer(&buf[0])).AllGroups()
	sids := make([]string, 0, len(groups))
	for _, g := range groups {
		sids = append(sids, g.Sid.String())
	}
	return sids, nil
}
