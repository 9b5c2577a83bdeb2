// Package response builds the body that is pushed to a peer over the data
// connection. A body is either the listing of the served directory, the
// exact bytes of a file or the NotFound sentinel.
package response

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/taruti/mimemagic"
	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sahib/ftserve/request"
	"github.com/sahib/ftserve/util/protocol"
	log "github.com/sirupsen/logrus"
)

// NotFound is sent instead of file content when a file cannot be served.
// Peers can only tell it apart from a file with the same content by
// comparing length and bytes.
const NotFound = "FILE NOT FOUND"

// Kind tells what a payload contains.
type Kind int

const (
	KindListing Kind = iota
	KindFile
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindFile:
		return "file"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// mimeSniffSize is how much of a file is looked at to guess its type.
const mimeSniffSize = 4096

// Payload is the body of one data connection.
type Payload struct {
	Kind Kind
	Body []byte

	// MimeType is guessed from the content of files; empty otherwise
	// or when nothing matched. It is only used for logging.
	MimeType string
}

// Len is the value of the length prefix.
func (p *Payload) Len() uint32 {
	return uint32(len(p.Body))
}

// Frame returns the payload as it goes over the wire.
func (p *Payload) Frame() ([]byte, error) {
	return protocol.Frame(p.Body)
}

func notFound() *Payload {
	return &Payload{Kind: KindNotFound, Body: []byte(NotFound)}
}

// Builder produces payloads for requests on a single directory.
// It holds no mutable state and may be shared between goroutines.
type Builder struct {
	// Root is the served directory.
	Root string

	// MaxFileSize is the largest file that is served.
	// Bigger files are answered with the NotFound sentinel.
	MaxFileSize uint64

	// DotEntries prepends "." and ".." to every listing.
	DotEntries bool
}

// NewBuilder returns a Builder serving `root` with the largest
// possible file size limit.
func NewBuilder(root string) *Builder {
	return &Builder{
		Root:        root,
		MaxFileSize: protocol.MaxBodySize,
	}
}

// Build answers `req`. It never fails; problems are either encoded as
// the NotFound sentinel (Get) or as an empty listing (List) and logged.
func (bd *Builder) Build(req *request.Request) *Payload {
	if req.Command == request.Get {
		return bd.Get(req.Filename)
	}

	payload, err := bd.List()
	if err != nil {
		log.WithError(err).Errorf("Failed to list %s; sending empty listing", bd.Root)
		return &Payload{Kind: KindListing}
	}

	return payload
}

// List joins the names in the served directory with newlines.
// The order is whatever the filesystem yields; nothing is sorted.
func (bd *Builder) List() (*Payload, error) {
	fd, err := os.Open(bd.Root)
	if err != nil {
		return nil, errors.Wrap(err, "open served directory")
	}

	defer fd.Close()

	names, err := fd.Readdirnames(-1)
	if err != nil {
		return nil, errors.Wrap(err, "read served directory")
	}

	if bd.DotEntries {
		names = append([]string{".", ".."}, names...)
	}

	body := strings.Join(names, "\n")
	return &Payload{Kind: KindListing, Body: []byte(body)}, nil
}

// Get reads the file `name` from the served directory unchanged.
// Names that would leave the served directory, missing or unreadable
// files, directories and files above MaxFileSize all yield NotFound.
func (bd *Builder) Get(name string) *Payload {
	data, err := bd.readFile(name)
	if err != nil {
		log.WithError(err).Infof("File not found: %s", name)
		return notFound()
	}

	sniff := data
	if len(sniff) > mimeSniffSize {
		sniff = sniff[:mimeSniffSize]
	}

	payload := &Payload{
		Kind:     KindFile,
		Body:     data,
		MimeType: mimemagic.Match("", sniff),
	}

	log.Debugf("Serving %s (%s, %s)", name, humanize.Bytes(uint64(len(data))), payload.MimeType)
	return payload
}

func (bd *Builder) readFile(name string) ([]byte, error) {
	if !filepath.IsLocal(name) {
		return nil, errors.Errorf("%s is outside of the served directory", name)
	}

	fd, err := os.Open(filepath.Join(bd.Root, name))
	if err != nil {
		return nil, err
	}

	defer fd.Close()

	info, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}

	if !info.Mode().IsRegular() {
		return nil, errors.Errorf("%s is not a regular file", name)
	}

	size := uint64(info.Size())
	if size > bd.MaxFileSize || size > protocol.MaxBodySize {
		return nil, errors.Errorf(
			"%s is too big (%s, limit: %s)",
			name,
			humanize.IBytes(size),
			humanize.IBytes(bd.MaxFileSize),
		)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(fd, data); err != nil {
		return nil, errors.Wrap(err, "read")
	}

	return data, nil
}
