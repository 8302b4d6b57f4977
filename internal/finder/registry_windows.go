//go:build windows

package finder

import (
	"log/slog"

	"golang.org/x/sys/windows/registry"
)

var registryRoots = []struct {
	name string
	key  registry.Key
}{
	{"HKLM", registry.LOCAL_MACHINE},
	{"HKU", registry.USERS},
	{"HKCU", registry.CURRENT_USER},
}

var registryRights = map[AccessType]uint32{
	AccessRead:  registry.READ,
	AccessWrite: registry.WRITE,
	AccessAll:   registry.ALL_ACCESS,
}

func (f *Finder) scanRegistry() error {
	for _, root := range registryRoots {
		f.walkRegistry(root.key, root.name, "")
		if f.failed() != nil {
			return nil
		}
	}
	return nil
}

// walkRegistry enumerates the subkeys of path under root as the caller and
// checks each one. An empty path is the hive itself.
func (f *Finder) walkRegistry(root registry.Key, rootName, path string) {
	key := root
	if path != "" {
		k, err := registry.OpenKey(root, path, registry.ENUMERATE_SUB_KEYS)
		if err != nil {
			f.logger().Debug("skipping unreadable key",
				slog.String("path", rootName+`\`+path),
				slog.String("error", err.Error()),
			)
			return
		}
		defer k.Close()
		key = k
	}

	names, err := key.ReadSubKeyNames(-1)
	if err != nil {
		if path == "" {
			f.fail(ObjectRegistry, rootName, err)
		}
		return
	}

	for _, name := range names {
		if f.failed() != nil {
			return
		}
		sub := name
		if path != "" {
			sub = path + `\` + name
		}
		display := rootName + `\` + sub
		if f.excluded(display) {
			continue
		}

		f.check(ObjectRegistry, display, func(_ string, access AccessType) error {
			k, err := registry.OpenKey(root, sub, registryRights[access])
			if err != nil {
				return err
			}
			return k.Close()
		})
		f.walkRegistry(root, rootName, sub)
	}
}
