package asset

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Source wraps a streamable local file or remote resource payload.
type Source struct {
	io.ReadCloser
	url *url.URL
}

// Returns the path to this source.
func (s *Source) Path() string {
	return s.url.String()
}

// Returns true if the source is streamed over http/https.
func (s *Source) IsRemote() bool {
	return s.url.Scheme != ""
}

// Open a payload stream. If relTo is specified and pathToSource does not
// define a scheme, the path is resolved against the directory of relTo.
//
// http/https URLs are fetched with the net/http package. The caller must
// close the returned Source.
func Open(pathToSource string, relTo *Source) (*Source, error) {
	srcURL, err := url.Parse(strings.Replace(pathToSource, `\`, `/`, -1))
	if err != nil {
		return nil, err
	}

	// If this is a relative url, clone parent url and adjust its path
	if srcURL.Scheme == "" && relTo != nil {
		path := srcURL.Path
		srcURL, _ = url.Parse(relTo.url.String())
		prefix := srcURL.Path
		if srcURL.Scheme == "" {
			prefix, err = filepath.Abs(relTo.url.String())
			if err != nil {
				return nil, fmt.Errorf("source: could not detect abs path for %s; %s", relTo.url.String(), err.Error())
			}
		}
		srcURL.Path = filepath.Dir(prefix) + "/" + path
	}

	var reader io.ReadCloser
	switch srcURL.Scheme {
	case "":
		reader, err = os.Open(filepath.Clean(srcURL.Path))
		if err != nil {
			return nil, err
		}
	case "http", "https":
		resp, err := http.Get(srcURL.String())
		if err != nil {
			return nil, fmt.Errorf("source: could not fetch '%s': %s", srcURL.String(), err)
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("source: could not fetch '%s': status %d", srcURL.String(), resp.StatusCode)
		}
		reader = resp.Body
	default:
		return nil, fmt.Errorf("source: unsupported scheme '%s'", srcURL.Scheme)
	}

	return &Source{
		ReadCloser: reader,
		url:        srcURL,
	}, nil
}

// Load reads a payload from a local path or URL and wraps it into a
// content-addressed resource.
func Load(pathToSource string, kind Kind) (*Resource, error) {
	src, err := Open(pathToSource, nil)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	payload, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("source: could not read '%s': %w", src.Path(), err)
	}
	return NewResource(kind, filepath.Base(src.url.Path), payload), nil
}
