package asset

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Client used for http(s) resources.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// A readable scene asset (obj, mtl or image) backed by a local file, an
// http(s) URL or an in-memory stream. Callers must Close it.
type Resource struct {
	io.ReadCloser
	url *url.URL
}

// Get the location of this resource.
func (r *Resource) Path() string {
	return r.url.String()
}

// Get the file name of this resource without its directory.
func (r *Resource) Name() string {
	return path.Base(r.url.Path)
}

// Get the lower-case file extension including the leading dot.
func (r *Resource) Ext() string {
	return strings.ToLower(path.Ext(r.url.Path))
}

// Returns true if the resource is fetched over http(s).
func (r *Resource) IsRemote() bool {
	return r.url.Scheme == "http" || r.url.Scheme == "https"
}

// Open a resource. A location without a scheme is a local path. If relTo is
// not nil, locations without a scheme are resolved against its directory so
// that obj includes and mtl/texture references work for remote scenes too.
func NewResource(location string, relTo *Resource) (*Resource, error) {
	loc, err := resolve(location, relTo)
	if err != nil {
		return nil, err
	}

	var reader io.ReadCloser
	switch loc.Scheme {
	case "":
		if reader, err = os.Open(filepath.FromSlash(loc.Path)); err != nil {
			return nil, err
		}
	case "http", "https":
		if reader, err = fetch(loc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, loc.Scheme)
	}

	return &Resource{ReadCloser: reader, url: loc}, nil
}

// Wrap an in-memory stream. The name is used for error messages and to
// resolve relative references.
func NewResourceFromStream(name string, source io.Reader) *Resource {
	loc, err := url.Parse(filepath.ToSlash(name))
	if err != nil {
		loc = &url.URL{Path: name}
	}
	return &Resource{ReadCloser: io.NopCloser(source), url: loc}
}

func resolve(location string, relTo *Resource) (*url.URL, error) {
	loc, err := url.Parse(strings.ReplaceAll(location, `\`, `/`))
	if err != nil {
		return nil, err
	}
	if loc.Scheme != "" || relTo == nil || path.IsAbs(loc.Path) {
		return loc, nil
	}

	base := *relTo.url
	if base.Scheme == "" {
		absPath, err := filepath.Abs(filepath.FromSlash(base.Path))
		if err != nil {
			return nil, fmt.Errorf("asset: could not resolve %q relative to %q: %w", location, relTo.Path(), err)
		}
		base.Path = filepath.ToSlash(absPath)
	}
	base.Path = path.Join(path.Dir(base.Path), loc.Path)
	return &base, nil
}

func fetch(loc *url.URL) (io.ReadCloser, error) {
	resp, err := httpClient.Get(loc.String())
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrFetchFailed, loc.String(), err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w %q: status %d", ErrFetchFailed, loc.String(), resp.StatusCode)
	}
	return resp.Body, nil
}
