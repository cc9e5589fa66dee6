// Copyright (c) 2015, 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeURL returns a service base URL ending with a slash.  A bare
// host[:port] gets the http scheme and, lacking a port, defaultPort.
func NormalizeURL(raw, defaultPort string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		host, path, _ := strings.Cut(raw, "/")
		if _, _, err := net.SplitHostPort(host); err != nil &&
			defaultPort != "" {

			host = net.JoinHostPort(host, defaultPort)
		}
		raw = "http://" + host + "/" + path
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in url %q", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}
