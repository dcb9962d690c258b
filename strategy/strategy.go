// Package strategy decides how an input gets acquired.
package strategy

import (
	"net/url"
	"os"
	"path"
	"strings"

	"stashcast/media"
)

type Strategy int

const (
	GenericExtraction Strategy = iota
	LocalFile
	DirectMedia
	DRMRedirect
)

func (s Strategy) String() string {
	switch s {
	case LocalFile:
		return "local-file"
	case DirectMedia:
		return "direct-media"
	case DRMRedirect:
		return "drm-redirect"
	default:
		return "generic-extraction"
	}
}

// Resolver classifies inputs. It never touches the network.
type Resolver struct {
	drmHosts []string
}

func NewResolver(drmHosts []string) *Resolver {
	hosts := make([]string, 0, len(drmHosts))
	for _, h := range drmHosts {
		hosts = append(hosts, strings.ToLower(strings.TrimPrefix(h, ".")))
	}
	return &Resolver{drmHosts: hosts}
}

// Resolve returns the acquisition strategy for a URL or filesystem path.
func (r *Resolver) Resolve(input string) Strategy {
	input = strings.TrimSpace(input)
	if r.IsDRM(input) {
		return DRMRedirect
	}
	if p, ok := LocalPath(input); ok {
		switch media.Ext(p) {
		case "html", "htm":
			return GenericExtraction
		}
		return LocalFile
	}
	if u, err := url.Parse(input); err == nil && u.Path != "" {
		if media.IsMedia(path.Ext(u.Path)) {
			return DirectMedia
		}
	}
	return GenericExtraction
}

// IsDRM matches the host of input against the configured DRM hosts,
// including their subdomains.
func (r *Resolver) IsDRM(input string) bool {
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range r.drmHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// LocalPath reports whether input names an existing regular file, either as a
// plain path or as a file:// URL, and returns that path.
func LocalPath(input string) (string, bool) {
	p := input
	if strings.HasPrefix(input, "file://") {
		u, err := url.Parse(input)
		if err != nil {
			return "", false
		}
		p = u.Path
	}
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return p, true
}
