package aptidx

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strconv"

	"github.com/zextras/reposync/reposync"
)

// packagesHashFields maps a Packages-stanza field name (lowercase "sum", per
// the format) to its Algorithm. Unlike Release, Packages uses "MD5sum".
var packagesHashFields = []struct {
	field string
	algo  reposync.Algorithm
}{
	{"Md5sum", reposync.MD5},
	{"Sha1", reposync.SHA1},
	{"Sha256", reposync.SHA256},
	{"Sha512", reposync.SHA512},
}

// PackageStanza is one record of a Packages file: a .deb's identity.
type PackageStanza struct {
	Name    string
	Version string
	Ref     reposync.PackageRef
}

// ParsePackages reads a decompressed Packages file (a sequence of RFC5322-ish
// stanzas separated by blank lines, the same grammar the dpkg status database
// uses) and returns one PackageStanza per entry.
func ParsePackages(r io.Reader) ([]PackageStanza, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	var out []PackageStanza
	for {
		hdr, err := tp.ReadMIMEHeader()
		if len(hdr) == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("aptidx: reading Packages stanza: %w", err)
			}
			break
		}
		filename := hdr.Get("Filename")
		if filename == "" {
			continue
		}
		size, err := strconv.ParseInt(hdr.Get("Size"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("aptidx: malformed Size for %q: %w", filename, err)
		}
		var set reposync.DigestSet
		for _, hf := range packagesHashFields {
			v := hdr.Get(hf.field)
			if v == "" {
				continue
			}
			d, err := decodeHex(hf.algo, v)
			if err != nil {
				return nil, fmt.Errorf("aptidx: package %q: %w", filename, err)
			}
			set = append(set, d)
		}
		out = append(out, PackageStanza{
			Name:    hdr.Get("Package"),
			Version: hdr.Get("Version"),
			Ref: reposync.PackageRef{
				Path:    filename,
				Size:    size,
				Digests: set,
			},
		})
		if err == io.EOF {
			break
		}
	}
	return out, nil
}
