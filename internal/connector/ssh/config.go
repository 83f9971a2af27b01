package ssh

import (
	"os"
	"strings"

	"github.com/kevinburke/ssh_config"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// applyConfigFile fills hostname, user, port and identity files from the
// matching Host block of the ssh_config file. Values already set win.
// A file that cannot be parsed is skipped and defaults apply.
func (c *Connector) applyConfigFile() error {
	if c.configFile == "" {
		return nil
	}

	f, err := os.Open(c.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to open ssh config %s", c.configFile)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		// Match blocks and other unsupported directives must not stop the dial.
		log.WithField("path", c.configFile).WithError(err).Warn("ignoring unparsable ssh config")
		return nil
	}

	if v, _ := cfg.Get(c.host, "HostName"); v != "" {
		c.hostname = strings.ReplaceAll(v, "%h", c.host)
	}
	if c.user == "" {
		if v, _ := cfg.Get(c.host, "User"); v != "" {
			c.user = v
		}
	}
	if c.port == "" {
		if v, _ := cfg.Get(c.host, "Port"); v != "" {
			c.port = v
		}
	}

	files, _ := cfg.GetAll(c.host, "IdentityFile")
	for _, file := range files {
		c.identityFiles = append(c.identityFiles, expandHome(file))
	}

	return nil
}
