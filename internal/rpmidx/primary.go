package rpmidx

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/zextras/reposync/reposync"
)

// PrimaryMetadata is the parsed form of primary.xml: the enumeration of
// every package in the repository, with its location, size, and checksum.
type PrimaryMetadata struct {
	XMLName  xml.Name     `xml:"metadata"`
	Packages []PrimaryPkg `xml:"package"`
}

type PrimaryPkg struct {
	Name     string         `xml:"name"`
	Arch     string         `xml:"arch"`
	Version  PrimaryVersion `xml:"version"`
	Checksum RepomdCksum    `xml:"checksum"`
	Location RepomdLoc      `xml:"location"`
	Size     PrimarySize    `xml:"size"`
}

type PrimaryVersion struct {
	Epoch   string `xml:"epoch,attr"`
	Version string `xml:"ver,attr"`
	Release string `xml:"rel,attr"`
}

type PrimarySize struct {
	Package int64 `xml:"package,attr"`
}

// ParsePrimary parses a (decompressed) primary.xml document into package
// records, matching the "location href, size package, checksum" fields
// spec.md §4.4 names.
func ParsePrimary(r io.Reader) ([]reposync.PackageRef, error) {
	var md PrimaryMetadata
	if err := xml.NewDecoder(r).Decode(&md); err != nil {
		return nil, fmt.Errorf("rpmidx: parsing primary.xml: %w", err)
	}
	out := make([]reposync.PackageRef, 0, len(md.Packages))
	for _, p := range md.Packages {
		algo, err := normalizeAlgo(p.Checksum.Type)
		if err != nil {
			return nil, fmt.Errorf("rpmidx: package %q: %w", p.Location.Href, err)
		}
		cs, err := hexDecode(p.Checksum.Value)
		if err != nil {
			return nil, fmt.Errorf("rpmidx: package %q: bad checksum: %w", p.Location.Href, err)
		}
		out = append(out, reposync.PackageRef{
			Path:    p.Location.Href,
			Size:    p.Size.Package,
			Digests: reposync.DigestSet{{Algo: algo, Checksum: cs}},
		})
	}
	return out, nil
}
