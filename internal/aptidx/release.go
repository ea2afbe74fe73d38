// Package aptidx implements the APT half of the Index Parser (spec.md §4.4):
// Release/InRelease parsing, Packages-file selection, and control-stanza
// parsing into the shared Manifest shape.
package aptidx

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/zextras/reposync/reposync"
)

// Release is the parsed form of a dists/<suite>/Release (or InRelease, once
// its clearsignature has been stripped and verified by internal/sign)
// document.
type Release struct {
	Suite         string
	Codename      string
	Components    []string
	Architectures []string
	// Hashes maps a path relative to the Release file's directory (e.g.
	// "main/binary-amd64/Packages.gz") to every digest the Release document
	// declared for it.
	Hashes map[string]reposync.DigestSet
	// Sizes maps the same paths to their declared size.
	Sizes map[string]int64
}

// hashField associates a Release stanza field name with the Algorithm it
// carries. Note the field is "MD5Sum" (capital S) in Release, unlike in
// Packages where it's "MD5sum".
var hashFields = []struct {
	field string
	algo  reposync.Algorithm
}{
	{"Md5sum", reposync.MD5},
	{"Sha1", reposync.SHA1},
	{"Sha256", reposync.SHA256},
	{"Sha512", reposync.SHA512},
}

// ParseRelease parses a single Release control stanza. The caller is
// responsible for handing this function the clearsigned body with its
// OpenPGP wrapper already removed (internal/sign does that for InRelease),
// or the plain Release file contents (for the Release+Release.gpg variant).
func ParseRelease(r io.Reader) (*Release, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return nil, fmt.Errorf("aptidx: reading Release stanza: %w", err)
	}

	rel := &Release{
		Suite:    hdr.Get("Suite"),
		Codename: hdr.Get("Codename"),
		Hashes:   make(map[string]reposync.DigestSet),
		Sizes:    make(map[string]int64),
	}
	if v := hdr.Get("Components"); v != "" {
		rel.Components = strings.Fields(v)
	}
	if v := hdr.Get("Architectures"); v != "" {
		rel.Architectures = strings.Fields(v)
	}

	// textproto.MIMEHeader folds a hash block's indented continuation lines
	// into one space-joined value, so multilineField splits that value back
	// into "checksum size name" triples below.
	for _, hf := range hashFields {
		lines, err := multilineField(hdr, hf.field)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			fields := strings.Fields(line)
			if len(fields) != 3 {
				continue
			}
			checksum, sizeStr, name := fields[0], fields[1], fields[2]
			size, err := strconv.ParseInt(sizeStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("aptidx: malformed %s size for %q: %w", hf.field, name, err)
			}
			d, err := decodeHex(hf.algo, checksum)
			if err != nil {
				return nil, fmt.Errorf("aptidx: malformed %s for %q: %w", hf.field, name, err)
			}
			rel.Hashes[name] = append(rel.Hashes[name], d)
			rel.Sizes[name] = size
		}
	}
	return rel, nil
}

// multilineField recovers the "checksum size name" triples of a Release
// hash block. net/textproto's ReadMIMEHeader folds every continuation line
// (the indented lines under "SHA256:") into a single space-joined value, so
// the original one-triple-per-line structure is gone by the time it reaches
// here; this regroups the flattened fields three at a time instead.
func multilineField(hdr textproto.MIMEHeader, field string) ([]string, error) {
	v := hdr.Get(field)
	if v == "" {
		return nil, nil
	}
	fields := strings.Fields(v)
	if len(fields)%3 != 0 {
		return nil, fmt.Errorf("aptidx: malformed %s block: %d fields is not a multiple of 3", field, len(fields))
	}
	out := make([]string, 0, len(fields)/3)
	for i := 0; i < len(fields); i += 3 {
		out = append(out, strings.Join(fields[i:i+3], " "))
	}
	return out, nil
}
