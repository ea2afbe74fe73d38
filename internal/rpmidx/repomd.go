// Package rpmidx implements the RPM half of the Index Parser (spec.md
// §4.4): repomd.xml parsing and primary.xml parsing into the shared
// Manifest shape.
package rpmidx

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/zextras/reposync/reposync"
)

// Repomd is the parsed form of repodata/repomd.xml: a list of metadata
// files by type, each with declared size and checksum.
type Repomd struct {
	XMLName xml.Name     `xml:"repomd"`
	Data    []RepomdData `xml:"data"`
}

type RepomdData struct {
	Type     string      `xml:"type,attr"`
	Location RepomdLoc   `xml:"location"`
	Checksum RepomdCksum `xml:"checksum"`
	Size     int64       `xml:"size"`
	OpenSize int64       `xml:"open-size"`
}

type RepomdLoc struct {
	Href string `xml:"href,attr"`
}

type RepomdCksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// ParseRepomd parses a repodata/repomd.xml document.
func ParseRepomd(r io.Reader) (*Repomd, error) {
	var rm Repomd
	if err := xml.NewDecoder(r).Decode(&rm); err != nil {
		return nil, fmt.Errorf("rpmidx: parsing repomd.xml: %w", err)
	}
	return &rm, nil
}

// Find returns the RepomdData entry of the given type ("primary",
// "primary_db", ...), if present.
func (rm *Repomd) Find(typ string) (RepomdData, bool) {
	for _, d := range rm.Data {
		if d.Type == typ {
			return d, true
		}
	}
	return RepomdData{}, false
}

// Digest converts a RepomdData's checksum into a reposync.Digest.
func (d RepomdData) Digest() (reposync.Digest, error) {
	algo, err := normalizeAlgo(d.Checksum.Type)
	if err != nil {
		return reposync.Digest{}, err
	}
	cs, err := hexDecode(d.Checksum.Value)
	if err != nil {
		return reposync.Digest{}, fmt.Errorf("rpmidx: bad checksum for %s: %w", d.Location.Href, err)
	}
	return reposync.Digest{Algo: algo, Checksum: cs}, nil
}

func normalizeAlgo(t string) (reposync.Algorithm, error) {
	switch t {
	case "md5":
		return reposync.MD5, nil
	case "sha", "sha1":
		return reposync.SHA1, nil
	case "sha256":
		return reposync.SHA256, nil
	case "sha512":
		return reposync.SHA512, nil
	default:
		return "", fmt.Errorf("rpmidx: unknown checksum type %q", t)
	}
}
