package ssh

import (
	"net"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// hostKeys returns the callback used to verify the server's host key.
// Keys listed in known_hosts must match. Hosts absent from the file are
// accepted and nothing is written back.
func (c *Connector) hostKeys() (ssh.HostKeyCallback, error) {
	if c.hostKeyCallback != nil {
		return c.hostKeyCallback, nil
	}
	if c.knownHostsFile == "" {
		return acceptUnknown(nil), nil
	}

	known, err := knownhosts.New(c.knownHostsFile)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return acceptUnknown(nil), nil
		}
		return nil, errors.Wrapf(err, "failed to load known hosts %s", c.knownHostsFile)
	}
	return acceptUnknown(known), nil
}

func acceptUnknown(known ssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if known == nil {
			return nil
		}

		err := known(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			log.WithFields(log.Fields{
				"host":        hostname,
				"fingerprint": ssh.FingerprintSHA256(key),
			}).Info("accepting unknown host key")
			return nil
		}
		return err
	}
}
