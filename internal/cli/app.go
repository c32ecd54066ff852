package cli

import (
	"path/filepath"
	"sync"
	"time"

	"echotome/internal/configstore"
	"echotome/internal/identity"
	"echotome/internal/session"
)

// sampleRate is the fixed capture/analysis rate every ritual recording
// uses, live or loaded from a file.
const sampleRate = 44100

var (
	cfgOnce sync.Once
	cfg     configstore.Config

	mgrOnce sync.Once
	mgr     *session.Manager
)

func loadConfig() configstore.Config {
	cfgOnce.Do(func() {
		loaded, err := configstore.Load(configstore.DefaultConfigPath())
		if err != nil {
			loaded = configstore.Config{}
		}
		cfg = loaded
	})
	return cfg
}

// sessionManager returns the process-wide session manager, starting its
// background sweep goroutine on first use.
func sessionManager() *session.Manager {
	mgrOnce.Do(func() {
		mgr = session.NewManager(30 * time.Second)
	})
	return mgr
}

func identityPath() string {
	return filepath.Join(loadConfig().DataRoot, "identity", "identity.key")
}

func loadIdentity() (*identity.Identity, error) {
	return identity.LoadOrGenerate(identityPath())
}

func vaultDataRoot() string {
	return loadConfig().DataRoot
}
