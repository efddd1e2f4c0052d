package main

import (
	"strings"

	"github.com/martinhoefling/goxkcdpwgen/xkcdpwgen"
)

const rigNameSettingKey = "rig_name"

func generateRigNameXKCD() string {
	g := xkcdpwgen.NewGenerator()
	g.SetNumWords(2)
	g.SetCapitalize(false)
	g.SetDelimiter("-")
	return strings.TrimSpace(g.GeneratePasswordString())
}

var rigNameGenerator = generateRigNameXKCD

// rigSettings is where a generated rig name is kept between runs.
type rigSettings interface {
	Setting(key string) (string, bool, error)
	SetSetting(key, value string) error
}

// resolveRigName returns the configured worker name, else the name stored
// by a previous run, else a freshly generated one which is then stored.
func resolveRigName(configured string, store rigSettings) string {
	if name := strings.TrimSpace(configured); name != "" {
		return name
	}
	if store != nil {
		if name, ok, err := store.Setting(rigNameSettingKey); err != nil {
			logger.Warn("read rig name", "error", err)
		} else if ok && name != "" {
			return name
		}
	}
	name := rigNameGenerator()
	if store != nil {
		if err := store.SetSetting(rigNameSettingKey, name); err != nil {
			logger.Warn("persist rig name", "error", err)
		}
	}
	return name
}

// poolIdentity appends the rig name using the usual wallet.worker form.
// Identities that already name a worker are left alone.
func poolIdentity(identity, rig string) string {
	identity = strings.TrimSpace(identity)
	rig = strings.TrimSpace(rig)
	if rig == "" || strings.Contains(identity, ".") {
		return identity
	}
	return identity + "." + rig
}
